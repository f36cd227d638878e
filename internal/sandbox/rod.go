package sandbox

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/job"
	"github.com/AlfredBerg/rod-runner/internal/js"
)

// RodConfig tunes the rod executor.
type RodConfig struct {
	// Slots is the browser pool size, one browser per concurrent job.
	Slots int
	// Timeout bounds one whole script execution.
	Timeout time.Duration
	// NavTimeout bounds the initial navigation to a job's target url.
	NavTimeout time.Duration
	Headless   bool
}

// Rod executes job scripts on chromium via go-rod. Each execution gets a
// fresh incognito browser context that is disposed when the job ends, so no
// cookies, storage or pages survive across jobs.
type Rod struct {
	cfg      RodConfig
	pool     rod.BrowserPool
	recorder RequestRecorder
	log      *zap.Logger

	live atomic.Int32
}

// NewRod creates the executor. recorder may be nil to skip request capture.
func NewRod(cfg RodConfig, recorder RequestRecorder, log *zap.Logger) *Rod {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 15 * time.Second
	}
	return &Rod{
		cfg:      cfg,
		pool:     rod.NewBrowserPool(cfg.Slots),
		recorder: recorder,
		log:      log,
	}
}

// createBrowser launches one pooled browser. Returning nil leaves the slot
// empty so the next Get retries the launch.
func (r *Rod) createBrowser() *rod.Browser {
	l := launcher.New().Headless(r.cfg.Headless)
	u, err := l.Launch()
	if err != nil {
		r.log.Error("failed launching browser", zap.Error(err))
		return nil
	}
	go l.Cleanup()

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		r.log.Error("failed connecting to browser", zap.Error(err))
		return nil
	}

	// Don't download files in the browser, e.g. pdf files
	_ = proto.BrowserSetDownloadBehavior{
		Behavior:         proto.BrowserSetDownloadBehaviorBehaviorDeny,
		BrowserContextID: browser.BrowserContextID,
	}.Call(browser)

	r.live.Add(1)
	return browser
}

// Execute runs the job's script in a fresh incognito context under the
// configured timeout. The context is disposed on every exit path, which
// also kills an eval that is still hanging when the timeout fires.
func (r *Rod) Execute(ctx context.Context, j *job.Job) (*Result, error) {
	browser := r.pool.Get(r.createBrowser)
	defer r.pool.Put(browser)
	if browser == nil {
		return nil, job.NewError(job.KindExecution, "browser engine unavailable")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	incog, err := browser.Context(ctx).Incognito()
	if err != nil {
		return nil, r.classify(ctx, err)
	}
	// Disposing the browser context tears down every page in it, even one
	// stuck mid-navigation. Call it on the pooled browser, not the timed
	// one, so teardown still works after the deadline fired.
	defer func() {
		err := proto.TargetDisposeBrowserContext{
			BrowserContextID: incog.BrowserContextID,
		}.Call(browser)
		if err != nil {
			r.log.Warn("failed disposing browser context",
				zap.String("job_id", j.ID), zap.Error(err))
		}
	}()

	page, err := incog.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, r.classify(ctx, err)
	}

	if r.recorder != nil {
		router := page.HijackRequests()
		err := router.Add("*", "", func(hctx *rod.Hijack) {
			defer hctx.ContinueRequest(&proto.FetchContinueRequest{})
			u := hctx.Request.URL()
			err := r.recorder.Record(j.ID, hctx.Request.Req().Method,
				u.String(), u.Path, u.Hostname(), hctx.Request.Body())
			if err != nil {
				r.log.Warn("failed recording request", zap.Error(err))
			}
		})
		if err != nil {
			r.log.Warn("failed adding hijack route", zap.Error(err))
		} else {
			go router.Run()
			defer func() { _ = router.Stop() }()
		}
	}

	if j.Target != "" {
		if err := page.Timeout(r.cfg.NavTimeout).Navigate(j.Target); err != nil {
			return nil, r.classify(ctx, err)
		}
		if err := page.Timeout(5 * time.Second).WaitStable(time.Second); err != nil {
			r.log.Debug("page did not stabilize before eval",
				zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	evalRes, err := page.Eval(j.Script)
	if err != nil {
		return nil, r.classify(ctx, err)
	}

	res := &Result{}
	if s, ok := evalRes.Value.Val().(string); ok {
		res.Output = s
	} else {
		res.Output = evalRes.Value.JSON("", "")
	}

	// Best effort, the result is already in hand.
	if state, err := page.Eval(js.PAGE_STATE); err == nil {
		res.FinalURL = state.Value.Get("url").Str()
		res.Title = state.Value.Get("title").Str()
	}

	return res, nil
}

// classify turns a rod failure into a job error, with timeouts kept apart
// from script bugs.
func (r *Rod) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return job.Newf(job.KindTimeout, "execution exceeded the %s timeout", r.cfg.Timeout)
	}
	return job.Wrap(job.KindExecution, err)
}

// Connected reports whether at least one pooled browser launched.
func (r *Rod) Connected() bool {
	return r.live.Load() > 0
}

// Warmup launches the first pooled browser ahead of the first job so a
// broken chromium install shows up at startup instead of on a job.
func (r *Rod) Warmup() error {
	browser := r.pool.Get(r.createBrowser)
	defer r.pool.Put(browser)
	if browser == nil {
		return errors.New("browser launch failed")
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return err
	}
	defer page.Close()
	_, err = page.Eval(js.PING)
	return err
}

// Cleanup closes every browser the pool is holding.
func (r *Rod) Cleanup() {
	r.pool.Cleanup(func(browser *rod.Browser) {
		if err := browser.Close(); err != nil {
			r.log.Warn("failed closing browser", zap.Error(err))
		}
	})
}
