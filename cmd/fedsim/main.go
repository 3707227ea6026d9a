// fedsim runs a demo federation in one process: a pilot federate that owns
// an Aircraft object, and a logger federate that journals everything, both
// on a loopback bus. The prompt drives the pilot.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ergochat/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simfed/fedkit"
	"github.com/simfed/fedkit/codec"
	"github.com/simfed/fedkit/config"
	"github.com/simfed/fedkit/journal"
	"github.com/simfed/fedkit/loopback"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("show"),
	readline.PcItem("set",
		readline.PcItem("Callsign"),
		readline.PcItem("Position"),
		readline.PcItem("Velocity"),
		readline.PcItem("Health"),
		readline.PcItem("Status"),
	),
	readline.PcItem("send"),
	readline.PcItem("radio"),
	readline.PcItem("step"),
	readline.PcItem("advance"),
	readline.PcItem("time"),
	readline.PcItem("achieve"),
	readline.PcItem("journal"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

var statusEnum = codec.NewEnumeration("Status", "Active", "Damaged", "Destroyed")

func aircraftFields() fedkit.Fields {
	return fedkit.Fields{
		{Name: "Callsign", Type: codec.Type{Kind: codec.ASCII}},
		{Name: "Position", Type: codec.Type{Kind: codec.Float64}},
		{Name: "Velocity", Type: codec.Type{Kind: codec.Float64}},
		{Name: "Health", Type: codec.Type{Kind: codec.Int32}},
		{Name: "Status", Type: codec.Type{Kind: codec.Enum, Enum: statusEnum}},
	}
}

func radioFields() fedkit.Fields {
	return fedkit.Fields{
		{Name: "Text", Type: codec.Type{Kind: codec.Unicode}},
	}
}

// sim holds the demo federation's moving parts.
type sim struct {
	bus      *loopback.Bus
	pilot    *fedkit.Federate
	pilotRT  *loopback.Runtime
	logger   *journal.LoggerFederate
	loggerRT *loopback.Runtime
	journal  *journal.Journal
	aircraft *fedkit.ObjectRecord
	instance fedkit.Handle
}

func defaults() *config.FederateConfig {
	return &config.FederateConfig{
		Federation: "Demo",
		Name:       "pilot",
		Type:       "aircraft",
		Lookahead:  1.0,
		StepSize:   1.0,
		SyncPoints: []string{fedkit.RunSyncPoint, fedkit.ShutdownSyncPoint},
		Journal:    config.JournalConfig{Dir: filepath.Join(os.TempDir(), "fedsim-journal")},
	}
}

func start(cfg *config.FederateConfig) (*sim, error) {
	s := &sim{bus: loopback.NewBus()}

	var err error
	if s.journal, err = journal.Open(cfg.Journal.Dir, nil); err != nil {
		return nil, err
	}

	opts := cfg.Options()
	opts.RequiredFederates = []string{cfg.Name}
	opts.PublishSubscribe = func(f *fedkit.Federate) error {
		if err := f.PublishObjectClass("Aircraft", aircraftFields().Names(), true, false); err != nil {
			return err
		}
		return f.PublishInteractionClass("RadioMessage", radioFields().Names(), true, false)
	}
	s.pilotRT = s.bus.NewRuntime()
	s.pilot = fedkit.New(s.pilotRT, opts)
	if err = s.pilot.Setup(context.Background()); err != nil {
		return nil, err
	}

	s.loggerRT = s.bus.NewRuntime()
	s.logger = journal.NewLoggerFederate(s.loggerRT, fedkit.Options{
		Federation: cfg.Federation,
		Name:       "logger",
		Type:       "logger",
	}, s.journal)
	if err = s.logger.RegisterObject("Aircraft", aircraftFields()); err != nil {
		return nil, err
	}
	if err = s.logger.RegisterInteraction("RadioMessage", radioFields()); err != nil {
		return nil, err
	}
	if err = s.logger.Setup(context.Background()); err != nil {
		return nil, err
	}

	if s.aircraft, err = fedkit.NewObjectRecord("Aircraft", aircraftFields()); err != nil {
		return nil, err
	}
	if s.instance, err = s.pilot.RegisterInstance("Aircraft", cfg.Name); err != nil {
		return nil, err
	}

	if cfg.Metrics.Addr != "" {
		prometheus.MustRegister(fedkit.NewCollector(s.pilot))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, promhttp.Handler()); err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
			}
		}()
	}
	return s, nil
}

// poll drains both endpoints so anything just sent gets delivered.
func (s *sim) poll() {
	_ = s.pilotRT.Poll(0, 0)
	_ = s.loggerRT.Poll(0, 0)
}

func (s *sim) set(field, raw string) error {
	decl := s.aircraft.Declaration()
	ndx := decl.Find(field)
	if ndx == -1 {
		return fmt.Errorf("no such attribute: %s", field)
	}
	var v codec.Value
	var err error
	switch t := decl[ndx].Type; t.Kind {
	case codec.Float64:
		var f float64
		if f, err = strconv.ParseFloat(raw, 64); err == nil {
			v = codec.FloatValue(codec.Float64, f)
		}
	case codec.Int32:
		var i int64
		if i, err = strconv.ParseInt(raw, 10, 32); err == nil {
			v = codec.IntValue(codec.Int32, i)
		}
	case codec.ASCII:
		v = codec.ASCIIValue(raw)
	case codec.Enum:
		v, err = t.Enum.Value(raw)
	default:
		return fmt.Errorf("cannot parse a %s", t)
	}
	if err != nil {
		return err
	}
	return s.aircraft.Set(field, v)
}

func (s *sim) show(w io.Writer) {
	dirty := map[string]bool{}
	for _, name := range s.aircraft.DirtyFields() {
		dirty[name] = true
	}
	_, _ = fmt.Fprintf(w, "time=%g stage=%s running=%v\n",
		s.pilot.Time(), s.pilot.Stage(), s.pilot.Running())
	for _, name := range s.aircraft.FieldNames() {
		v, ok := s.aircraft.Get(name)
		mark := " "
		if dirty[name] {
			mark = "*"
		}
		if ok {
			_, _ = fmt.Fprintf(w, "%s %-10s %s\n", mark, name, v)
		} else {
			_, _ = fmt.Fprintf(w, "%s %-10s (unset)\n", mark, name)
		}
	}
}

func (s *sim) showJournal(w io.Writer, n int) error {
	entries, err := s.journal.Recent(n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%6d %-11s t=%-8g %s%s %v\n",
			e.Seq, e.Kind, e.Time, e.Class, e.Label, e.Fields)
	}
	return nil
}

func (s *sim) stop() {
	s.pilot.Resign()
	s.logger.Resign()
	_ = s.journal.Close()
}

const usage = `help                 this text
show                 pilot state and aircraft attributes (* = unsent)
set <attr> <value>   stage an attribute change
send                 transmit staged changes
radio <text...>      send a RadioMessage interaction
step                 advance one step
advance <t>          advance to logical time t
time                 print the logical time
achieve <label>      register and achieve a sync point
journal [n]          latest journal entries
exit | quit          resign and leave`

func main() {
	cfg := defaults()
	if len(os.Args) > 1 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-2)
		}
		cfg = loaded
		if cfg.Journal.Dir == "" {
			cfg.Journal.Dir = defaults().Journal.Dir
		}
	}

	s, err := start(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "✈ ",
		HistoryFile:     "/tmp/fedsim.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}
		cmd := args[0]
		err = nil
		switch cmd {
		case "help":
			fmt.Println(usage)
		case "show":
			s.show(os.Stdout)
		case "set":
			if len(args) != 3 {
				err = fmt.Errorf("usage: set <attr> <value>")
				break
			}
			err = s.set(args[1], args[2])
		case "send":
			if err = s.pilot.SendUpdate(s.instance, s.aircraft); err == nil {
				s.poll()
			}
		case "radio":
			if len(args) < 2 {
				err = fmt.Errorf("usage: radio <text>")
				break
			}
			var msg *fedkit.InteractionRecord
			if msg, err = fedkit.NewInteractionRecord("RadioMessage", radioFields()); err != nil {
				break
			}
			if err = msg.Set("Text", codec.UnicodeValue(strings.Join(args[1:], " "))); err != nil {
				break
			}
			if err = s.pilot.SendInteraction(msg); err == nil {
				s.poll()
			}
		case "step":
			if err = s.pilot.AdvanceBy(context.Background()); err == nil {
				s.poll()
				fmt.Printf("granted t=%g\n", s.pilot.Time())
			}
		case "advance":
			if len(args) != 2 {
				err = fmt.Errorf("usage: advance <t>")
				break
			}
			var target float64
			if target, err = strconv.ParseFloat(args[1], 64); err != nil {
				break
			}
			if err = s.pilot.AdvanceTo(context.Background(), target); err == nil {
				s.poll()
				fmt.Printf("granted t=%g\n", s.pilot.Time())
			}
		case "time":
			fmt.Printf("t=%g (outgoing %g)\n", s.pilot.Time(), s.pilot.Timestamp())
		case "achieve":
			if len(args) != 2 {
				err = fmt.Errorf("usage: achieve <label>")
				break
			}
			if err = s.pilot.RegisterSyncPoint(args[1]); err != nil {
				break
			}
			s.poll()
			if err = s.pilot.AchieveSyncPoint(args[1]); err != nil {
				break
			}
			if err = s.logger.AchieveSyncPoint(args[1]); err != nil {
				break
			}
			s.poll()
			fmt.Printf("%s: %s\n", args[1], s.pilot.SyncPoint(args[1]))
		case "journal":
			n := 10
			if len(args) > 1 {
				if n, err = strconv.Atoi(args[1]); err != nil {
					break
				}
			}
			err = s.showJournal(os.Stdout, n)
		case "exit", "quit":
			s.stop()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error executing %s: %s\n", cmd, err.Error())
		}
	}
	s.stop()
}
