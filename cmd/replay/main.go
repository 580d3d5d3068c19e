// Command replay feeds a recorded debug-channel log through the session core
// and prints the resulting view. Each non-empty input line is one message.
// Lines starting with "select <kind> <value>" apply a popup selection
// instead.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wolfman30/physio-voice-booking/internal/appointments"
	"github.com/wolfman30/physio-voice-booking/internal/bookingflow"
	appconfig "github.com/wolfman30/physio-voice-booking/internal/config"
	"github.com/wolfman30/physio-voice-booking/internal/session"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	mobile := flag.String("mobile", "9999999999", "ten digit mobile number for the session")
	file := flag.String("file", "-", "message log to replay, - for stdin")
	fetch := flag.Bool("fetch", false, "query the upcoming-appointments API")
	verbose := flag.Bool("v", false, "print the flow state after every line")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	in := io.Reader(os.Stdin)
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatalf("open %s: %v", *file, err)
		}
		defer f.Close()
		in = f
	}

	cues, err := bookingflow.LoadCueTable(cfg.BookingCuesFile)
	if err != nil {
		log.Fatalf("load cues: %v", err)
	}
	opts := session.Options{Logger: logger, Go: func(fn func()) { fn() }}
	if *fetch {
		opts.Fetcher = appointments.NewClient(cfg.AppointmentsBaseURL, cfg.AppointmentsUserID, cfg.AppointmentsTimeout, logger)
	}
	manager := session.NewManager(session.Config{Cues: cues, CueTimeout: cfg.BookingCueTimeout}, opts)

	ctx := context.Background()
	s, err := manager.Create(ctx, *mobile)
	if err != nil {
		log.Fatalf("create session: %v", err)
	}
	s.StartCall(ctx)

	if err := replay(ctx, s, in, os.Stdout, *verbose); err != nil {
		log.Fatalf("replay: %v", err)
	}

	out, _ := json.MarshalIndent(s.View(), "", "  ")
	fmt.Println(string(out))
}

func replay(ctx context.Context, s *session.Session, in io.Reader, out io.Writer, verbose bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var view session.View
		if rest, ok := strings.CutPrefix(line, "select "); ok {
			kind, value, _ := strings.Cut(rest, " ")
			v, err := s.Select(ctx, bookingflow.Kind(kind), value)
			if err != nil {
				fmt.Fprintf(out, "line %d: %v\n", lineNo, err)
			}
			view = v
		} else {
			view = s.HandleDebug(ctx, line)
		}
		if verbose {
			fmt.Fprintf(out, "line %d: flow=%s popup=%s symptoms=%d\n",
				lineNo, view.Flow.State, view.Flow.Popup, len(view.Consultation.Symptoms))
		}
	}
	return scanner.Err()
}
