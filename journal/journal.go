// Package journal persists federation traffic to a local pebble store:
// attribute updates, interactions and synchronization points, one JSON
// document per event, so a run can be replayed or inspected after the
// federation is gone. Only the fields actually set on a record are
// projected into the entry, through the record's read-only surface.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/simfed/fedkit"
	"github.com/simfed/fedkit/utils"
)

const recentCacheSize = 512

var ErrClosed = errors.New("journal: store is closed")

var writeOptions = pebble.WriteOptions{Sync: false}

// Entry is one journaled event.
type Entry struct {
	Run    string         `json:"run"`
	Kind   string         `json:"kind"` // meta | update | interaction | sync
	Class  string         `json:"class,omitempty"`
	Label  string         `json:"label,omitempty"`
	Time   float64        `json:"time"`
	Clock  time.Time      `json:"clock"`
	Fields map[string]any `json:"fields,omitempty"`

	Seq uint64 `json:"-"`
}

// Journal is an append-only event log. Entries are keyed 'J' + big-endian
// sequence number so a plain forward iteration replays the run in order.
type Journal struct {
	db    *pebble.DB
	run   string
	seq   uint64
	cache *lru.Cache[uint64, Entry]
	log   utils.Logger
}

func JKey(seq uint64) []byte {
	var ret = [9]byte{'J'}
	return binary.BigEndian.AppendUint64(ret[:1], seq)
}

func JKeySeq(key []byte) (seq uint64, ok bool) {
	if len(key) != 9 || key[0] != 'J' {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[1:]), true
}

// Open opens (or creates) the journal at dir and stamps the run with a
// fresh identifier and a meta entry.
func Open(dir string, log utils.Logger) (j *Journal, err error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "journal: open store")
	}
	cache, _ := lru.New[uint64, Entry](recentCacheSize)
	j = &Journal{
		db:    db,
		run:   uuid.NewString(),
		cache: cache,
		log:   log,
	}
	// resume the sequence past any previous run
	it, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'J'},
		UpperBound: []byte{'K'},
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if it.Last() {
		if seq, ok := JKeySeq(it.Key()); ok {
			j.seq = seq + 1
		}
	}
	_ = it.Close()

	err = j.append(Entry{Kind: "meta"})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Run() string { return j.run }

func (j *Journal) Close() error {
	if j.db == nil {
		return ErrClosed
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func (j *Journal) append(e Entry) error {
	if j.db == nil {
		return ErrClosed
	}
	e.Run = j.run
	e.Clock = time.Now().UTC()
	e.Seq = j.seq
	body, err := json.Marshal(&e)
	if err != nil {
		return errors.Wrap(err, "journal: marshal entry")
	}
	if err = j.db.Set(JKey(e.Seq), body, &writeOptions); err != nil {
		return errors.Wrap(err, "journal: write entry")
	}
	j.cache.Add(e.Seq, e)
	j.seq++
	return nil
}

// projection pulls the currently set fields out of a record without
// touching its mutation surface.
func projection(r *fedkit.Record) map[string]any {
	fields := make(map[string]any)
	for _, name := range r.FieldNames() {
		if v, ok := r.Get(name); ok {
			fields[name] = v.Native()
		}
	}
	return fields
}

// LogUpdate journals the set attributes of an object record at logical
// time t.
func (j *Journal) LogUpdate(rec *fedkit.ObjectRecord, t float64) error {
	return j.append(Entry{
		Kind:   "update",
		Class:  rec.ClassName(),
		Time:   t,
		Fields: projection(&rec.Record),
	})
}

// LogInteraction journals the set parameters of an interaction record.
func (j *Journal) LogInteraction(rec *fedkit.InteractionRecord, t float64) error {
	return j.append(Entry{
		Kind:   "interaction",
		Class:  rec.InteractionName(),
		Time:   t,
		Fields: projection(&rec.Record),
	})
}

// LogSyncPoint journals an achieved synchronization point.
func (j *Journal) LogSyncPoint(label string, t float64) error {
	return j.append(Entry{Kind: "sync", Label: label, Time: t})
}

// Recent returns up to n latest entries, newest first. Cached entries are
// served from memory; older ones are read back from the store.
func (j *Journal) Recent(n int) (entries []Entry, err error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	for seq := j.seq; seq > 0 && len(entries) < n; {
		seq--
		if e, ok := j.cache.Get(seq); ok {
			entries = append(entries, e)
			continue
		}
		val, clo, e := j.db.Get(JKey(seq))
		if e != nil {
			return entries, errors.Wrap(e, "journal: read entry")
		}
		var ent Entry
		if e = json.Unmarshal(val, &ent); e == nil {
			ent.Seq = seq
			entries = append(entries, ent)
		}
		_ = clo.Close()
		if e != nil {
			return entries, errors.Wrap(e, "journal: parse entry")
		}
	}
	return entries, nil
}
