// Package attributes implements the notification attribute engine (spec
// §4.J): per-(path, short-server-id) pmin/pmax/gt/lt/st evaluation,
// assignment-level precedence (object < instance < resource), and
// transactional write-attribute validation.
package attributes

import (
	"time"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

// Level is the path depth at which an attribute value was assigned;
// higher levels take precedence over lower ones (spec glossary).
type Level int

const (
	LevelObject Level = iota + 1
	LevelInstance
	LevelResource
)

// Set is one (path, ssid) attribute row. A nil pointer field means
// "unset at this level", to be inherited from an ancestor.
type Set struct {
	Path          string
	ShortServerID uint16
	Level         Level

	PMin *int
	PMax *int
	GT   *float64
	LT   *float64
	ST   *float64

	lastNotificationAge time.Duration
	conNotificationAge  time.Duration
	prevValue           float64
	havePrevValue       bool
}

// Engine owns every (path, ssid) attribute row, keyed by "path|ssid".
type Engine struct {
	sets            map[string]*Set
	coapConInterval time.Duration
}

func New(coapConInterval time.Duration) *Engine {
	return &Engine{sets: make(map[string]*Set), coapConInterval: coapConInterval}
}

func key(path string, ssid uint16) string {
	return path + "|" + itoa(ssid)
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Get returns the row for (path, ssid), creating an empty one if absent.
func (e *Engine) Get(path string, ssid uint16, level Level) *Set {
	k := key(path, ssid)
	s, ok := e.sets[k]
	if !ok {
		s = &Set{Path: path, ShortServerID: ssid, Level: level}
		e.sets[k] = s
	}
	return s
}

// WriteAttributes validates and applies a write-attribute request
// transactionally: all-or-nothing, per spec §4.J's constraints (pmin <=
// pmax; if both gt and lt set, lt <= gt and lt + 2*st <= gt).
func (e *Engine) WriteAttributes(path string, ssid uint16, level Level, pmin, pmax *int, gt, lt, st *float64) error {
	candidate := &Set{Path: path, ShortServerID: ssid, Level: level, PMin: pmin, PMax: pmax, GT: gt, LT: lt, ST: st}

	if err := validate(candidate); err != nil {
		return err
	}

	e.sets[key(path, ssid)] = candidate
	return nil
}

func validate(s *Set) error {
	if s.PMin != nil && s.PMax != nil && *s.PMin > *s.PMax {
		return lwm2merr.Coded(lwm2merr.ErrInvalidArgument, lwm2merr.BadRequest)
	}
	if s.GT != nil && s.LT != nil {
		if *s.LT > *s.GT {
			return lwm2merr.Coded(lwm2merr.ErrInvalidArgument, lwm2merr.BadRequest)
		}
		if s.ST != nil && *s.LT+2*(*s.ST) > *s.GT {
			return lwm2merr.Coded(lwm2merr.ErrInvalidArgument, lwm2merr.BadRequest)
		}
	}
	return nil
}

// Resolved is the effective attribute values for a path after inheriting
// any unset field from its nearest ancestor level.
type Resolved struct {
	PMin int
	PMax int
	GT   *float64
	LT   *float64
	ST   *float64
}

// Resolve walks object -> instance -> resource rows for the same ssid,
// with each more specific level's set fields overriding the inherited
// ones, and defaults (from the server record) backing anything still
// unset.
func (e *Engine) Resolve(objectPath, instancePath, resourcePath string, ssid uint16, defaultPMin, defaultPMax int) Resolved {
	r := Resolved{PMin: defaultPMin, PMax: defaultPMax}
	for _, p := range []string{objectPath, instancePath, resourcePath} {
		if p == "" {
			continue
		}
		s, ok := e.sets[key(p, ssid)]
		if !ok {
			continue
		}
		if s.PMin != nil {
			r.PMin = *s.PMin
		}
		if s.PMax != nil {
			r.PMax = *s.PMax
		}
		if s.GT != nil {
			r.GT = s.GT
		}
		if s.LT != nil {
			r.LT = s.LT
		}
		if s.ST != nil {
			r.ST = s.ST
		}
	}
	return r
}

// NotifyDecision is returned by Tick for each observer evaluated.
type NotifyDecision struct {
	ShouldNotify bool
	Confirmable  bool
}

// Tick advances one observer's attribute state by elapsed and the
// observed numeric value (NaN if the resource isn't numeric), applying
// the three rules from spec §4.J: pmin+threshold-crossing, pmax
// regardless of change, and CON-promotion every coapConInterval.
func (e *Engine) Tick(path string, ssid uint16, elapsed time.Duration, value float64, numeric bool) NotifyDecision {
	s := e.Get(path, ssid, LevelResource)
	s.lastNotificationAge += elapsed
	s.conNotificationAge += elapsed

	ageS := int(s.lastNotificationAge / time.Second)
	pmin := 0
	if s.PMin != nil {
		pmin = *s.PMin
	}
	pmax := 0
	if s.PMax != nil {
		pmax = *s.PMax
	}

	notify := false
	if pmax > 0 && ageS >= pmax {
		notify = true
	} else if numeric && ageS >= pmin {
		if crossed(s, value) {
			notify = true
		}
	}

	if !notify {
		return NotifyDecision{}
	}

	con := s.conNotificationAge >= e.coapConInterval
	if con {
		s.conNotificationAge = 0
	}
	s.lastNotificationAge = 0
	if numeric {
		s.prevValue = value
		s.havePrevValue = true
	}

	return NotifyDecision{ShouldNotify: true, Confirmable: con}
}

func crossed(s *Set, value float64) bool {
	if !s.havePrevValue {
		return true
	}
	if s.GT != nil && s.prevValue <= *s.GT && value > *s.GT {
		return true
	}
	if s.LT != nil && s.prevValue >= *s.LT && value < *s.LT {
		return true
	}
	if s.ST != nil {
		delta := value - s.prevValue
		if delta < 0 {
			delta = -delta
		}
		if delta >= *s.ST {
			return true
		}
	}
	return s.GT == nil && s.LT == nil && s.ST == nil
}
