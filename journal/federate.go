package journal

import (
	"github.com/pkg/errors"

	"github.com/simfed/fedkit"
)

// LoggerFederate wires a Federate session so that everything it can see is
// journaled: it subscribes (never publishes) every registered record type
// and writes one journal entry per inbound update, interaction and achieved
// synchronization point. Register the record types before Setup.
type LoggerFederate struct {
	*fedkit.Federate

	journal      *Journal
	objects      map[string]fedkit.Fields
	interactions map[string]fedkit.Fields
}

// NewLoggerFederate builds a subscribe-only session over rt. The options'
// PublishSubscribe callback is replaced with the registry-driven one.
func NewLoggerFederate(rt fedkit.Runtime, opts fedkit.Options, j *Journal) *LoggerFederate {
	lf := &LoggerFederate{
		journal:      j,
		objects:      make(map[string]fedkit.Fields),
		interactions: make(map[string]fedkit.Fields),
	}
	opts.PublishSubscribe = lf.subscribeAll
	lf.Federate = fedkit.New(rt, opts)
	lf.OnReflect = lf.reflect
	lf.OnInteraction = lf.interaction
	lf.OnSyncAchieved = lf.sync
	return lf
}

// RegisterObject declares an object class to subscribe to and journal.
func (lf *LoggerFederate) RegisterObject(class string, decl fedkit.Fields) error {
	if _, err := fedkit.NewObjectRecord(class, decl); err != nil {
		return err
	}
	lf.objects[class] = decl
	return nil
}

// RegisterInteraction declares an interaction class to subscribe to and
// journal.
func (lf *LoggerFederate) RegisterInteraction(name string, decl fedkit.Fields) error {
	if _, err := fedkit.NewInteractionRecord(name, decl); err != nil {
		return err
	}
	lf.interactions[name] = decl
	return nil
}

func (lf *LoggerFederate) subscribeAll(f *fedkit.Federate) error {
	for class, decl := range lf.objects {
		if err := f.PublishObjectClass(class, decl.Names(), false, true); err != nil {
			return err
		}
	}
	for name, decl := range lf.interactions {
		if err := f.PublishInteractionClass(name, decl.Names(), false, true); err != nil {
			return err
		}
	}
	return nil
}

func (lf *LoggerFederate) reflect(class string, _ fedkit.Handle, values map[string][]byte, t float64) {
	decl, ok := lf.objects[class]
	if !ok {
		return
	}
	// a fresh record per update keeps entries independent of each other
	rec, err := fedkit.NewObjectRecord(class, decl)
	if err != nil {
		return
	}
	rec.Anomaly = lf.fieldAnomaly(class)
	rec.ApplyIncoming(values)
	if err = lf.journal.LogUpdate(rec, t); err != nil {
		lf.journalError(err)
	}
}

func (lf *LoggerFederate) interaction(name string, values map[string][]byte, t float64) {
	decl, ok := lf.interactions[name]
	if !ok {
		return
	}
	rec, err := fedkit.NewInteractionRecord(name, decl)
	if err != nil {
		return
	}
	rec.Anomaly = lf.fieldAnomaly(name)
	rec.ApplyIncoming(values)
	if err = lf.journal.LogInteraction(rec, t); err != nil {
		lf.journalError(err)
	}
}

func (lf *LoggerFederate) sync(label string) {
	if err := lf.journal.LogSyncPoint(label, lf.Time()); err != nil {
		lf.journalError(err)
	}
}

func (lf *LoggerFederate) fieldAnomaly(class string) func(string, error) {
	return func(field string, err error) {
		lf.journalError(errors.Wrapf(err, "%s.%s", class, field))
	}
}

// journalError logs and swallows: the session must keep receiving even
// when the store misbehaves.
func (lf *LoggerFederate) journalError(err error) {
	if lf.journal.log != nil {
		lf.journal.log.Error("journal write failed", "err", err)
	}
}
