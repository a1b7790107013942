// Package schedule holds the persisted watering schedule and the
// polling scheduler that fires unattended scans.
package schedule

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	dateKey = "2006-01-02"
	timeKey = "15:04"
)

var weekdays = []string{
	"monday", "tuesday", "wednesday", "thursday",
	"friday", "saturday", "sunday",
}

// Data is the persisted schedule document.
type Data struct {
	// Weekly maps lowercase weekday names to recurring "HH:MM" times.
	Weekly map[string][]string `json:"weekly"`
	// DateSpecific maps "YYYY-MM-DD" dates to one-off "HH:MM" times.
	DateSpecific map[string][]string `json:"date_specific"`
	// WateredLog maps dates to the timestamp watering completed; at
	// most one entry per date.
	WateredLog map[string]string `json:"watered_log"`
}

// normalize backfills missing fields and weekday keys so loaded
// documents are always fully populated.
func (d *Data) normalize() {
	if d.Weekly == nil {
		d.Weekly = map[string][]string{}
	}
	for _, wd := range weekdays {
		if d.Weekly[wd] == nil {
			d.Weekly[wd] = []string{}
		}
	}
	if d.DateSpecific == nil {
		d.DateSpecific = map[string][]string{}
	}
	if d.WateredLog == nil {
		d.WateredLog = map[string]string{}
	}
}

// Validate rejects documents with malformed time or date keys.
func (d *Data) Validate() error {
	for wd, times := range d.Weekly {
		if !validWeekday(wd) {
			return errors.Errorf("unknown weekday %q", wd)
		}
		if err := validTimes(times); err != nil {
			return err
		}
	}
	for date, times := range d.DateSpecific {
		if _, err := time.Parse(dateKey, date); err != nil {
			return errors.Errorf("invalid date %q", date)
		}
		if err := validTimes(times); err != nil {
			return err
		}
	}
	return nil
}

func validWeekday(wd string) bool {
	for _, w := range weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

func validTimes(times []string) error {
	for _, tm := range times {
		if _, err := time.Parse(timeKey, tm); err != nil {
			return errors.Errorf("invalid time %q", tm)
		}
	}
	return nil
}

func (d *Data) clone() Data {
	var c Data
	raw, _ := json.Marshal(d)
	json.Unmarshal(raw, &c)
	c.normalize()
	return c
}

// Store owns a Data document and its file, serializing access and
// persisting atomically.
type Store struct {
	mx   sync.Mutex
	path string
	data Data
}

// NewStore loads path, backfilling defaults; a missing file yields an
// empty document.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.data.normalize()
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read schedule")
	}
	if err = json.Unmarshal(raw, &s.data); err != nil {
		return nil, errors.Wrap(err, "parse schedule")
	}
	s.data.normalize()
	return s, nil
}

// Get returns a copy of the current document.
func (s *Store) Get() Data {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.data.clone()
}

// Replace validates and persists a whole new document. On save
// failure the previous on-disk state is untouched.
func (s *Store) Replace(d Data) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.normalize()
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.save(&d); err != nil {
		return err
	}
	s.data = d
	return nil
}

// TimesFor returns the union of the weekday's recurring times and the
// date's one-off times, sorted and deduplicated.
func (s *Store) TimesFor(t time.Time) []string {
	s.mx.Lock()
	defer s.mx.Unlock()

	seen := map[string]bool{}
	wd := strings.ToLower(t.Weekday().String())
	for _, tm := range s.data.Weekly[wd] {
		seen[tm] = true
	}
	for _, tm := range s.data.DateSpecific[t.Format(dateKey)] {
		seen[tm] = true
	}

	out := make([]string, 0, len(seen))
	for tm := range seen {
		out = append(out, tm)
	}
	sort.Strings(out)
	return out
}

// WateredOn reports whether a watered-log entry exists for t's date.
func (s *Store) WateredOn(t time.Time) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	_, ok := s.data.WateredLog[t.Format(dateKey)]
	return ok
}

// MarkWatered records and persists a watered-log entry for t's date.
// On save failure the in-memory document is left unchanged, so the
// entry is never held in memory without being on disk.
func (s *Store) MarkWatered(t time.Time) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	staged := s.data.clone()
	staged.WateredLog[t.Format(dateKey)] = t.Format(time.RFC3339)
	if err := s.save(&staged); err != nil {
		return err
	}
	s.data = staged
	return nil
}

// save writes to a temp file and renames it into place so readers
// never see a partial document.
func (s *Store) save(d *Data) error {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode schedule")
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0644); err != nil {
		return errors.Wrap(err, "write schedule")
	}
	if err = os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replace schedule")
	}
	return nil
}
