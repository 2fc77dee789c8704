// File: internal/mailotp/reader.go

package mailotp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
)

var (
	// ErrConnection covers dial, login, and mailbox-select failures, and
	// calls made before Connect.
	ErrConnection = errors.New("mailotp: imap connection failed")

	// ErrTimeout means no matching verification mail arrived within the
	// attempt budget.
	ErrTimeout = errors.New("mailotp: no verification mail received")
)

// Result is what a verification mail yielded: a code or a link, never both.
// When a mail contains both, the code wins.
type Result struct {
	Code    string
	Link    string
	Subject string
	From    string
}

// Reader retrieves verification mails over IMAP. One Reader holds one
// connection; it is not safe for concurrent use.
type Reader struct {
	cfg    config.MailboxConfig
	logger *zap.Logger

	mu      sync.Mutex
	client  *imapclient.Client
	updates chan struct{}
	rng     *rand.Rand
}

func NewReader(cfg config.MailboxConfig, logger *zap.Logger) *Reader {
	return &Reader{
		cfg:     cfg,
		logger:  logger,
		updates: make(chan struct{}, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Connect dials the server over TLS, authenticates, and selects the
// configured folder. Mailbox update notifications are routed to the IDLE
// wait loop.
func (r *Reader) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	r.logger.Info("Connecting to mailbox", zap.String("addr", addr), zap.String("folder", r.cfg.Folder))

	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case r.updates <- struct{}{}:
					default:
					}
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}

	if err := client.Login(r.cfg.Username, r.cfg.Password).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("%w: login as %s: %v", ErrConnection, r.cfg.Username, err)
	}
	if _, err := client.Select(r.cfg.Folder, nil).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("%w: select %s: %v", ErrConnection, r.cfg.Folder, err)
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()
	r.logger.Info("Mailbox connected")
	return nil
}

// Close logs out and drops the connection. Safe to call repeatedly.
func (r *Reader) Close() error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Logout().Wait(); err != nil {
		r.logger.Debug("Logout failed, closing connection anyway", zap.Error(err))
	}
	return client.Close()
}

// WaitForVerification waits for a verification mail and extracts its code or
// link. Existing unseen mail is scanned first; then each attempt holds an
// IDLE session bounded by perAttempt, rescans on updates, and sleeps a
// randomized 8-12s between attempts.
func (r *Reader) WaitForVerification(ctx context.Context, perAttempt time.Duration, maxAttempts int) (*Result, error) {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("%w: Connect was not called", ErrConnection)
	}

	r.logger.Info("Waiting for verification mail",
		zap.Duration("per_attempt", perAttempt), zap.Int("max_attempts", maxAttempts))

	if res, err := r.scanUnseen(client); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.logger.Debug("Idle attempt", zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts))

		if err := r.idleWait(ctx, client, perAttempt); err != nil {
			return nil, err
		}
		if res, err := r.scanUnseen(client); err != nil {
			return nil, err
		} else if res != nil {
			return res, nil
		}

		if attempt < maxAttempts {
			if err := r.sleepBetweenAttempts(ctx); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrTimeout, maxAttempts)
}

// idleWait holds an IDLE session until the server reports mailbox activity,
// the window elapses, or ctx ends. Servers without IDLE degrade to a plain
// bounded sleep.
func (r *Reader) idleWait(ctx context.Context, client *imapclient.Client, window time.Duration) error {
	// Drop a stale notification from before this window.
	select {
	case <-r.updates:
	default:
	}

	idle, err := client.Idle()
	if err != nil {
		r.logger.Warn("IDLE unavailable, falling back to a timed wait", zap.Error(err))
		return sleepCtx(ctx, window)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	var waitErr error
	select {
	case <-ctx.Done():
		waitErr = ctx.Err()
	case <-timer.C:
		r.logger.Debug("Idle window elapsed without updates", zap.Duration("window", window))
	case <-r.updates:
		r.logger.Info("Mailbox activity during idle")
	}

	if err := idle.Close(); err != nil {
		r.logger.Debug("Ending idle failed", zap.Error(err))
	}
	if err := idle.Wait(); err != nil {
		r.logger.Debug("Idle termination error", zap.Error(err))
	}
	return waitErr
}

// scanUnseen fetches unseen mail newest-first and returns the extraction
// from the first relevant one, or nil when none match.
func (r *Reader) scanUnseen(client *imapclient.Client) (*Result, error) {
	searchData, err := client.Search(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("mailotp: searching unseen mail: %w", err)
	}

	seqNums := searchData.AllSeqNums()
	if len(seqNums) == 0 {
		return nil, nil
	}
	sort.Slice(seqNums, func(i, j int) bool { return seqNums[i] > seqNums[j] })

	bodySection := &imap.FetchItemBodySection{}
	buffers, err := client.Fetch(imap.SeqSetNum(seqNums...), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("mailotp: fetching mail: %w", err)
	}
	sort.Slice(buffers, func(i, j int) bool { return buffers[i].SeqNum > buffers[j].SeqNum })

	for _, buf := range buffers {
		raw := buf.FindBodySection(bodySection)
		if len(raw) == 0 {
			continue
		}
		msg, err := parseMessage(raw)
		if err != nil {
			r.logger.Debug("Unparseable mail skipped", zap.Uint32("seq", buf.SeqNum), zap.Error(err))
			continue
		}
		if !relevant(msg, r.cfg.SenderPatterns, r.cfg.SubjectKeywords) {
			continue
		}

		r.logger.Info("Verification mail found",
			zap.String("subject", msg.Subject), zap.String("from", msg.From))

		if code := extractCode(msg); code != "" {
			r.logger.Info("Verification code extracted", zap.Int("length", len(code)))
			return &Result{Code: code, Subject: msg.Subject, From: msg.From}, nil
		}
		if link := extractLink(msg, r.cfg.TargetDomain); link != "" {
			r.logger.Info("Verification link extracted")
			return &Result{Link: link, Subject: msg.Subject, From: msg.From}, nil
		}

		r.logger.Warn("Relevant mail carried neither code nor link",
			zap.String("subject", msg.Subject))
	}
	return nil, nil
}

func (r *Reader) sleepBetweenAttempts(ctx context.Context) error {
	d := 8*time.Second + time.Duration(r.rng.Int63n(int64(4*time.Second)))
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
