package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rider-safety/internal/contacts"
	"rider-safety/internal/location"
	"rider-safety/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// FixSource supplies the coordinates used when a request carries none.
type FixSource interface {
	Current() location.Fix
}

// Acknowledger receives every terminal result. Implementations must not block.
type Acknowledger interface {
	Acknowledge(Result)
}

type AckFunc func(Result)

func (f AckFunc) Acknowledge(r Result) { f(r) }

type Config struct {
	EmergencyURL string
	SupportURL   string
	Timeout      time.Duration
	// Contacts is consulted for emergency requests without recipients.
	Contacts contacts.Source
	Client   *http.Client
}

// Dispatcher sends alerts and support requests. At most one dispatch per
// kind is pending at a time.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	fixes  FixSource
	log    logrus.FieldLogger

	mu       sync.Mutex
	inFlight map[Kind]bool
	acks     []Acknowledger
}

func NewDispatcher(cfg Config, fixes FixSource, log logrus.FieldLogger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		fixes:    fixes,
		log:      log.WithField("component", "alert"),
		inFlight: make(map[Kind]bool),
	}
}

// AddAcknowledger registers a for every later terminal result.
func (d *Dispatcher) AddAcknowledger(a Acknowledger) {
	d.mu.Lock()
	d.acks = append(d.acks, a)
	d.mu.Unlock()
}

// InFlight reports whether a dispatch of kind k is pending.
func (d *Dispatcher) InFlight(k Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[k]
}

// Dispatch sends req and returns its terminal result, or a Busy result when
// a dispatch of the same kind is already pending. It never waits for a
// location fix.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	res := Result{ID: uuid.NewString(), Kind: req.Kind, Status: StatusPending}
	if req.Kind != Emergency && req.Kind != Support {
		return d.finish(d.fail(res, fmt.Sprintf("unknown alert kind %q", req.Kind), 0))
	}

	if !d.acquire(req.Kind) {
		res.Status = StatusBusy
		res.At = time.Now()
		metrics.DispatchBusy.Add(1)
		d.log.WithField("kind", req.Kind).Info("dispatch already pending, ignoring request")
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	switch req.Kind {
	case Emergency:
		res = d.sendEmergency(ctx, res, req)
	case Support:
		res = d.sendSupport(ctx, res, req.Support)
	}
	cancel()

	d.release(req.Kind)
	return d.finish(res)
}

func (d *Dispatcher) sendEmergency(ctx context.Context, res Result, req Request) Result {
	recipients := req.Recipients
	if recipients == nil && d.cfg.Contacts != nil {
		cs, err := d.cfg.Contacts.Contacts(ctx)
		if err != nil {
			return d.fail(res, fmt.Sprintf("fetch contacts: %v", err), 0)
		}
		recipients = contacts.Emails(cs)
	} else {
		recipients = contacts.NormalizeEmails(recipients)
	}
	if len(recipients) == 0 {
		return d.fail(res, "no valid recipients", 0)
	}

	fix := location.Fallback
	switch {
	case req.Fix != nil:
		fix = *req.Fix
	case d.fixes != nil:
		fix = d.fixes.Current()
	}
	name := strings.TrimSpace(req.RiderName)
	if name == "" {
		name = DefaultRiderName
	}
	res.Fix = &fix
	res.Recipients = len(recipients)

	code, err := post(ctx, d.client, endpoint(d.cfg.EmergencyURL, emergencyPath), emergencyPayload{
		Username:  name,
		Emails:    recipients,
		Latitude:  fix.Lat,
		Longitude: fix.Lon,
	})
	if err != nil {
		return d.fail(res, err.Error(), code)
	}
	res.Status = StatusSucceeded
	res.StatusCode = code
	return res
}

func (d *Dispatcher) sendSupport(ctx context.Context, res Result, s SupportDetails) Result {
	s.Name = strings.TrimSpace(s.Name)
	s.Email = strings.TrimSpace(s.Email)
	s.Phone = strings.TrimSpace(s.Phone)
	s.Description = strings.TrimSpace(s.Description)

	var missing []string
	if s.Name == "" {
		missing = append(missing, "name")
	}
	if s.Email == "" {
		missing = append(missing, "email")
	}
	if s.Phone == "" {
		missing = append(missing, "phone")
	}
	if s.Description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return d.fail(res, "missing support fields: "+strings.Join(missing, ", "), 0)
	}

	code, err := post(ctx, d.client, endpoint(d.cfg.SupportURL, supportPath), supportPayload{
		Name:               s.Name,
		Email:              s.Email,
		PhoneNumber:        s.Phone,
		ProblemDescription: s.Description,
	})
	if err != nil {
		return d.fail(res, err.Error(), code)
	}
	res.Status = StatusSucceeded
	res.StatusCode = code
	return res
}

func (d *Dispatcher) fail(res Result, reason string, code int) Result {
	res.Status = StatusFailed
	res.Reason = reason
	res.StatusCode = code
	return res
}

// finish stamps, counts, logs and acknowledges a terminal result.
func (d *Dispatcher) finish(res Result) Result {
	res.At = time.Now()
	log := d.log.WithFields(logrus.Fields{"kind": res.Kind, "id": res.ID})
	if res.Status == StatusSucceeded {
		metrics.DispatchSucceeded.Add(1)
		log.WithField("status_code", res.StatusCode).Info("dispatch succeeded")
	} else {
		metrics.DispatchFailed.Add(1)
		log.WithField("reason", res.Reason).Warn("dispatch failed")
	}

	d.mu.Lock()
	acks := append([]Acknowledger(nil), d.acks...)
	d.mu.Unlock()
	for _, a := range acks {
		a.Acknowledge(res)
	}
	return res
}

func (d *Dispatcher) acquire(k Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[k] {
		return false
	}
	d.inFlight[k] = true
	return true
}

func (d *Dispatcher) release(k Kind) {
	d.mu.Lock()
	delete(d.inFlight, k)
	d.mu.Unlock()
}

// LogAcknowledger reports results through the logger, which is the
// acknowledgment surface when no UI is attached.
type LogAcknowledger struct {
	Log logrus.FieldLogger
}

func (l LogAcknowledger) Acknowledge(r Result) {
	title, body := r.Message()
	entry := l.Log.WithFields(logrus.Fields{"component": "ack", "kind": r.Kind, "id": r.ID})
	if r.Status == StatusSucceeded {
		entry.Infof("%s: %s", title, body)
		return
	}
	entry.WithField("reason", r.Reason).Errorf("%s: %s", title, body)
}
