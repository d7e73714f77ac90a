// Package ingest accepts active-tab reports from browser extensions and
// turns them into stored browser domain samples.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"netmonitor/catalog"
	"netmonitor/errkind"
	"netmonitor/store"
)

// Report is one active-tab observation posted by an extension.
type Report struct {
	Domain    string    `json:"domain"`
	Timestamp Timestamp `json:"timestamp"`
	Browser   string    `json:"browser"`
}

// Timestamp accepts either a unix integer or an RFC 3339 string on the wire.
// Extensions for different browsers disagree on the format; the daemon takes
// both.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = Timestamp(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("%w: timestamp must be unix seconds or RFC 3339", errkind.ErrValidation)
	}
	parsed, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", errkind.ErrValidation, str)
	}
	*t = Timestamp(parsed.UTC().Unix())
	return nil
}

// Recorder writes validated reports into the store.
type Recorder struct {
	apps    *catalog.AppCatalog
	domains *catalog.DomainCatalog
	store   *store.Store
	clock   clockwork.Clock
	log     *slog.Logger
}

// NewRecorder returns a recorder over the given catalogs and store.
func NewRecorder(apps *catalog.AppCatalog, domains *catalog.DomainCatalog, st *store.Store, clock clockwork.Clock, log *slog.Logger) *Recorder {
	return &Recorder{apps: apps, domains: domains, store: st, clock: clock, log: log}
}

// Record validates and stores one report, returning the interned domain id.
// A missing or future timestamp is replaced with the current instant.
// Repeated identical reports within the same second coalesce into one row.
func (r *Recorder) Record(ctx context.Context, rep Report) (int64, error) {
	browser := strings.ToLower(strings.TrimSpace(rep.Browser))
	if browser == "" {
		return 0, fmt.Errorf("%w: empty browser name", errkind.ErrValidation)
	}

	now := r.clock.Now().UTC().Unix()
	ts := int64(rep.Timestamp)
	if ts <= 0 || ts > now {
		ts = now
	}

	domainID, err := r.domains.Intern(ctx, rep.Domain, ts)
	if err != nil {
		return 0, err
	}

	// Browser identities use a synthetic bundle id so extension traffic is
	// distinguishable from the browser's own sampled process.
	appID, err := r.apps.Intern(ctx, browser, "browser."+browser, ts)
	if err != nil {
		return 0, err
	}

	if err := r.store.InsertBrowserSample(ctx, ts, domainID, appID); err != nil {
		return 0, err
	}
	r.log.Debug("ingest: active tab recorded", "domain_id", domainID, "browser", browser, "ts", ts)
	return domainID, nil
}
