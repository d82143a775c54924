package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/dotrongnhan/saplgo/bundle"
	"github.com/dotrongnhan/saplgo/pdpconfig"
	"github.com/dotrongnhan/saplgo/pdplog"
)

// FetchMode selects how a RemoteBundleSource re-checks the server: Polling
// sleeps pollInterval after each 200 or 304; LongPoll re-issues the request
// immediately after either, relying on the server to hold the connection
// open until a change occurs (spec.md §6.5). In both modes a transport
// error or unexpected status waits the exponential backoff delay instead.
type FetchMode int

const (
	Polling FetchMode = iota
	LongPoll
)

// RemoteBundleOptions configures a RemoteBundleSource.
type RemoteBundleOptions struct {
	BaseURL        string
	PdpIDs         []string
	Mode           FetchMode
	PollInterval   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Client         *http.Client
}

// RemoteBundleSource runs one fetch loop per pdpId, polling
// "<BaseURL>/<pdpId>" with If-None-Match, honoring 200/304 responses and
// backing off exponentially on error (spec.md §6.5).
type RemoteBundleSource struct {
	opts   RemoteBundleOptions
	policy BundleSecurityPolicy
	sink   VoterSink
	log    *pdplog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	disposed bool
}

// NewRemoteBundleSource starts one goroutine per configured pdpId.
func NewRemoteBundleSource(opts RemoteBundleOptions, policy BundleSecurityPolicy, sink VoterSink) (*RemoteBundleSource, error) {
	if policy == nil {
		return nil, fmt.Errorf("source: policy must not be nil")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("source: RemoteBundleOptions.BaseURL is required")
	}
	if len(opts.PdpIDs) == 0 {
		return nil, fmt.Errorf("source: RemoteBundleOptions.PdpIDs is required")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 2 * time.Minute
	}
	for _, id := range opts.PdpIDs {
		if err := pdpconfig.ValidatePdpID(id); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &RemoteBundleSource{
		opts:   opts,
		policy: policy,
		sink:   sink,
		log:    pdplog.New("source.remotebundle"),
		cancel: cancel,
	}

	for _, id := range opts.PdpIDs {
		s.wg.Add(1)
		go s.loop(ctx, id)
	}
	return s, nil
}

func (s *RemoteBundleSource) loop(ctx context.Context, pdpID string) {
	defer s.wg.Done()
	etag := ""
	backoff := s.opts.BackoffInitial

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		status, newEtag, body, err := s.fetch(ctx, pdpID, etag)
		switch {
		case err != nil:
			s.log.Warnf("fetch %q: %v", pdpID, err)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		case status == http.StatusNotModified:
			backoff = s.opts.BackoffInitial
			if s.opts.Mode == Polling {
				if !sleepOrDone(ctx, s.opts.PollInterval) {
					return
				}
			}
			continue
		case status == http.StatusOK:
			backoff = s.opts.BackoffInitial
			etag = newEtag
			s.loadBundle(pdpID, body)
			if s.opts.Mode == Polling {
				if !sleepOrDone(ctx, s.opts.PollInterval) {
					return
				}
			}
			continue
		default:
			s.log.Warnf("fetch %q: unexpected status %d", pdpID, status)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
	}
}

func (s *RemoteBundleSource) fetch(ctx context.Context, pdpID, etag string) (status int, newEtag string, body []byte, err error) {
	url := s.opts.BaseURL + "/" + path.Clean(pdpID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return resp.StatusCode, etag, nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, "", nil, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("source: read body: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("ETag"), data, nil
}

func (s *RemoteBundleSource) loadBundle(pdpID string, raw []byte) {
	b, err := bundle.Parse(raw)
	if err != nil {
		s.log.Warnf("parse bundle for %q: %v", pdpID, err)
		return
	}
	if err := s.policy.Verify(b.Manifest, b.Files()); err != nil {
		s.log.Warnf("reject bundle for %q: %v", pdpID, err)
		return
	}
	doc, err := pdpconfig.ParsePdpJSON(b.PdpJSON)
	if err != nil {
		s.log.Warnf("parse pdp.json for %q: %v", pdpID, err)
		return
	}

	confID := doc.ConfigurationID
	if confID == "" {
		confID = pdpconfig.ConfigurationID("bundle", pdpID, b.Files())
	}
	docs := make([]string, 0, len(b.Policies))
	for _, data := range b.Policies {
		docs = append(docs, string(data))
	}

	s.sink.LoadConfiguration(pdpconfig.PDPConfiguration{
		PdpID:              pdpID,
		ConfigurationID:    confID,
		CombiningAlgorithm: doc.CombiningAlgorithm,
		Variables:          doc.Variables,
		SaplDocuments:      docs,
	}, true)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// Dispose stops every per-pdpId fetch loop and waits for them to exit.
// Idempotent.
func (s *RemoteBundleSource) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
