// Package seed generates synthetic usage events for local testing.
package seed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/billhawk/billhawk/events/internal/model"
)

// DefaultCodes are the metric codes generated when none are configured.
var DefaultCodes = []string{"api_calls", "storage", "compute", "seats"}

// Config controls event generation.
type Config struct {
	Count         int
	Organizations int
	// Subscriptions is the number of subscriptions per organization.
	Subscriptions int
	Codes         []string
	// TimeSpread places events between now-TimeSpread and now.
	TimeSpread time.Duration
	// InvalidRatio is the share of events that must be dead-lettered.
	InvalidRatio float64
	// Source is copied into every valid event when set.
	Source string
	// Seed makes output reproducible; 0 picks a random seed.
	Seed int64
}

// Event is one generated message.
type Event struct {
	Key     []byte
	Payload []byte
	Valid   bool
}

// Generator produces events for a fixed set of organizations and subscriptions.
type Generator struct {
	cfg   Config
	faker *gofakeit.Faker
	orgs  []string
	subs  map[string][]string
	now   time.Time
}

// NewGenerator creates a Generator anchored at now.
func NewGenerator(cfg Config, now time.Time) *Generator {
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Organizations <= 0 {
		cfg.Organizations = 3
	}
	if cfg.Subscriptions <= 0 {
		cfg.Subscriptions = 2
	}
	if len(cfg.Codes) == 0 {
		cfg.Codes = DefaultCodes
	}

	g := &Generator{
		cfg:   cfg,
		faker: gofakeit.New(cfg.Seed),
		subs:  make(map[string][]string),
		now:   now,
	}
	for i := 0; i < cfg.Organizations; i++ {
		org := "org_" + g.faker.LetterN(8)
		g.orgs = append(g.orgs, org)
		for j := 0; j < cfg.Subscriptions; j++ {
			g.subs[org] = append(g.subs[org], "sub_"+g.faker.LetterN(10))
		}
	}
	return g
}

// Organizations returns the generated organization ids.
func (g *Generator) Organizations() []string {
	return append([]string(nil), g.orgs...)
}

// Events generates cfg.Count events.
func (g *Generator) Events() ([]Event, error) {
	out := make([]Event, 0, g.cfg.Count)
	for i := 0; i < g.cfg.Count; i++ {
		ev, err := g.Event(i)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Event generates the index-th event.
func (g *Generator) Event(index int) (Event, error) {
	org := g.orgs[g.faker.Number(0, len(g.orgs)-1)]
	subs := g.subs[org]
	sub := subs[g.faker.Number(0, len(subs)-1)]
	code := g.faker.RandomString(g.cfg.Codes)

	raw := &model.RawEvent{
		OrganizationID:         org,
		TransactionID:          "tx_" + g.faker.UUID(),
		ExternalSubscriptionID: sub,
		Code:                   code,
		Timestamp:              g.eventTime(index),
		Properties:             g.properties(code),
		Source:                 g.cfg.Source,
	}
	key := []byte(raw.PartitionKey())

	if g.cfg.InvalidRatio > 0 && g.faker.Float64Range(0, 1) < g.cfg.InvalidRatio {
		return Event{Key: key, Payload: g.invalid(raw)}, nil
	}

	payload, err := json.Marshal(raw.ToWire())
	if err != nil {
		return Event{}, fmt.Errorf("marshal event %d: %w", index, err)
	}
	return Event{Key: key, Payload: payload, Valid: true}, nil
}

// eventTime spaces events evenly across the spread with ±40% jitter.
func (g *Generator) eventTime(index int) time.Time {
	spread := g.cfg.TimeSpread
	if spread <= 0 {
		return g.now
	}
	baseInterval := float64(spread) / float64(g.cfg.Count)
	baseOffset := time.Duration(float64(index) * baseInterval)

	jitterRange := baseInterval * 0.4
	jitter := time.Duration((g.faker.Float64Range(0, 1)*2.0 - 1.0) * jitterRange)

	offset := baseOffset + jitter
	if offset < 0 {
		offset = 0
	}
	if offset > spread {
		offset = spread
	}
	return g.now.Add(-(spread - offset)).Truncate(time.Microsecond)
}

func (g *Generator) properties(code string) map[string]any {
	switch code {
	case "api_calls":
		return map[string]any{
			"method": g.faker.HTTPMethod(),
			"region": g.faker.RandomString([]string{"us-east-1", "eu-west-1", "ap-south-1"}),
		}
	case "storage":
		return map[string]any{
			"gb": strconv.FormatFloat(g.faker.Float64Range(0.01, 500), 'f', 2, 64),
		}
	case "compute":
		return map[string]any{
			"cpu_seconds": json.Number(strconv.Itoa(g.faker.Number(1, 36000))),
			"instances":   json.Number(strconv.Itoa(g.faker.Number(1, 16))),
		}
	case "seats":
		return map[string]any{
			"seats": json.Number(strconv.Itoa(g.faker.Number(1, 50))),
		}
	default:
		return map[string]any{
			"value": json.Number(strconv.Itoa(g.faker.Number(1, 1000))),
		}
	}
}

// invalid returns a payload the decoder rejects.
func (g *Generator) invalid(raw *model.RawEvent) []byte {
	switch g.faker.Number(0, 2) {
	case 0:
		w := raw.ToWire()
		w.TransactionID = ""
		b, _ := json.Marshal(w)
		return b
	case 1:
		return []byte(fmt.Sprintf(`{"organization_id":%q,"transaction_id":"tx","code":%q,"properties":"not-an-object"}`, raw.OrganizationID, raw.Code))
	default:
		return []byte(`{"organization_id":` + strconv.Quote(raw.OrganizationID))
	}
}
