// Package overlay composites detection boxes, labels and alert banners
// onto captured frames. The renderer repaints on its own cadence so
// box opacity keeps fading between detector responses.
package overlay

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/pool"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

var overlayFont *truetype.Font

func init() {
	var err error
	overlayFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var (
	confirmedColor = color.RGBA{R: 220, G: 53, B: 69, A: 255}
	unknownColor   = color.RGBA{R: 40, G: 167, B: 69, A: 255}
	maskColor      = color.RGBA{R: 253, G: 126, B: 20, A: 255}
	faceColor      = color.RGBA{R: 13, G: 110, B: 253, A: 255}
	placeholderBG  = color.RGBA{R: 18, G: 20, B: 24, A: 255}
)

const (
	labelFontSize  = 15.0
	bannerFontSize = 17.0
	bannerHeight   = 30.0
	maxBanners     = 4
)

// Banner is a transient alert message stacked at the top of the frame.
type Banner struct {
	ID       uint64
	Kind     string
	Text     string
	RaisedAt time.Time
}

// PoolSource supplies the entries to paint.
type PoolSource interface {
	Snapshot(now time.Time) []pool.Entry
}

// Sink receives every composited frame.
type Sink func(types.Frame)

// Config carries renderer settings. TTLs and floors drive the fade
// curve; Width and Height size the placeholder shown before the first
// frame arrives.
type Config struct {
	Width          int
	Height         int
	ConfirmedTTL   time.Duration
	UnknownTTL     time.Duration
	ConfirmedFloor float64
	UnknownFloor   float64
	BannerTTL      time.Duration
	RedrawInterval time.Duration
	JPEGQuality    int
}

// Renderer owns the redraw loop and the banner stack.
type Renderer struct {
	cfg   Config
	pools PoolSource
	clk   clock.Clock

	mu           sync.Mutex
	base         types.Frame
	hasBase      bool
	banners      []Banner
	nextBannerID uint64
	sink         Sink

	cancel context.CancelFunc
	wg     sync.WaitGroup

	rendered         uint64
	renderErrors     uint64
	bannersRaised    uint64
	bannersExpired   uint64
	bannersDismissed uint64
}

// NewRenderer validates the configuration and creates a renderer. A
// nil clock falls back to the wall clock.
func NewRenderer(cfg Config, pools PoolSource, clk clock.Clock) (*Renderer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid placeholder size: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.ConfirmedFloor < 0 || cfg.ConfirmedFloor > 1 || cfg.UnknownFloor < 0 || cfg.UnknownFloor > 1 {
		return nil, fmt.Errorf("opacity floors must be in [0,1]")
	}
	if cfg.RedrawInterval <= 0 {
		return nil, fmt.Errorf("redraw interval must be positive")
	}
	if cfg.BannerTTL <= 0 {
		return nil, fmt.Errorf("banner ttl must be positive")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("invalid jpeg quality: %d", cfg.JPEGQuality)
	}
	if pools == nil {
		return nil, fmt.Errorf("pool source is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Renderer{cfg: cfg, pools: pools, clk: clk}, nil
}

// OnRender installs the sink that receives composited frames.
func (r *Renderer) OnRender(sink Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// SetBase stores the latest captured frame as the paint background.
func (r *Renderer) SetBase(f types.Frame) {
	r.mu.Lock()
	r.base = f
	r.hasBase = true
	r.mu.Unlock()
}

// ClearBase drops the background so the placeholder shows again.
func (r *Renderer) ClearBase() {
	r.mu.Lock()
	r.base = types.Frame{}
	r.hasBase = false
	r.banners = nil
	r.mu.Unlock()
}

// RaiseBanner adds a transient banner and returns its id. The stack
// keeps the newest entries when full.
func (r *Renderer) RaiseBanner(kind, text string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextBannerID++
	id := r.nextBannerID
	r.banners = append(r.banners, Banner{
		ID:       id,
		Kind:     kind,
		Text:     text,
		RaisedAt: r.clk.Now(),
	})
	if len(r.banners) > maxBanners {
		r.banners = r.banners[len(r.banners)-maxBanners:]
	}
	atomic.AddUint64(&r.bannersRaised, 1)
	return id
}

// DismissBanner removes a banner before its TTL runs out.
func (r *Renderer) DismissBanner(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, b := range r.banners {
		if b.ID == id {
			r.banners = append(r.banners[:i], r.banners[i+1:]...)
			atomic.AddUint64(&r.bannersDismissed, 1)
			return
		}
	}
}

// Banners returns the live banner stack.
func (r *Renderer) Banners() []Banner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneBannersLocked(r.clk.Now())
	return append([]Banner(nil), r.banners...)
}

func (r *Renderer) pruneBannersLocked(now time.Time) {
	kept := r.banners[:0]
	for _, b := range r.banners {
		if now.Sub(b.RaisedAt) > r.cfg.BannerTTL {
			atomic.AddUint64(&r.bannersExpired, 1)
			continue
		}
		kept = append(kept, b)
	}
	r.banners = kept
}

// Start launches the redraw loop.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return fmt.Errorf("renderer already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.renderLoop(ctx)

	slog.Info("overlay renderer started", "redraw_interval", r.cfg.RedrawInterval)
	return nil
}

// Stop halts the redraw loop.
func (r *Renderer) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	slog.Info("overlay renderer stopped", "rendered", atomic.LoadUint64(&r.rendered))
}

func (r *Renderer) renderLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clk.Ticker(r.cfg.RedrawInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := r.Render(r.clk.Now())
			if err != nil {
				slog.Warn("overlay render failed", "error", err)
				continue
			}
			r.mu.Lock()
			sink := r.sink
			r.mu.Unlock()
			if sink != nil {
				sink(frame)
			}
		}
	}
}

// Render composites one frame: background, detection boxes with
// age-faded opacity, labels and the banner stack.
func (r *Renderer) Render(now time.Time) (types.Frame, error) {
	r.mu.Lock()
	base := r.base
	hasBase := r.hasBase
	r.pruneBannersLocked(now)
	banners := append([]Banner(nil), r.banners...)
	r.mu.Unlock()

	out := types.Frame{Timestamp: now}

	var dc *gg.Context
	if hasBase {
		img, err := jpeg.Decode(bytes.NewReader(base.Data))
		if err != nil {
			atomic.AddUint64(&r.renderErrors, 1)
			return types.Frame{}, fmt.Errorf("overlay: decode base frame: %w", err)
		}
		dc = gg.NewContextForImage(img)
		out.Seq = base.Seq
		out.TraceID = base.TraceID
		out.SourceStream = base.SourceStream
	} else {
		dc = gg.NewContext(r.cfg.Width, r.cfg.Height)
		r.drawPlaceholder(dc, now)
	}

	for _, e := range r.pools.Snapshot(now) {
		r.drawEntry(dc, e, now)
	}
	r.drawBanners(dc, banners)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: r.cfg.JPEGQuality}); err != nil {
		atomic.AddUint64(&r.renderErrors, 1)
		return types.Frame{}, fmt.Errorf("overlay: encode frame: %w", err)
	}

	out.Width = dc.Width()
	out.Height = dc.Height()
	out.Data = buf.Bytes()
	atomic.AddUint64(&r.rendered, 1)
	return out, nil
}

// entryAlpha computes the fade opacity for an entry at the given
// instant: fully opaque when fresh, linear down to the kind's floor.
func (r *Renderer) entryAlpha(e pool.Entry, now time.Time) float64 {
	ttl, floor := r.cfg.ConfirmedTTL, r.cfg.ConfirmedFloor
	if e.Kind == pool.KindUnknown {
		ttl, floor = r.cfg.UnknownTTL, r.cfg.UnknownFloor
	}
	if ttl <= 0 {
		return floor
	}
	alpha := 1 - float64(e.Age(now))/float64(ttl)
	if alpha < floor {
		alpha = floor
	}
	if alpha > 1 {
		alpha = 1
	}
	return alpha
}

func (r *Renderer) drawEntry(dc *gg.Context, e pool.Entry, now time.Time) {
	c := confirmedColor
	if e.Kind == pool.KindUnknown {
		c = unknownColor
		if e.Detection.HasMask {
			c = maskColor
		}
	}
	alpha := r.entryAlpha(e, now)

	box := e.Detection.Box
	box.Clamp(dc.Width(), dc.Height())
	w := float64(box.Width())
	h := float64(box.Height())
	if w <= 0 || h <= 0 {
		return
	}

	setColorAlpha(dc, c, alpha)
	dc.SetLineWidth(3)
	dc.DrawRectangle(float64(box.X1), float64(box.Y1), w, h)
	dc.Stroke()

	label := e.Detection.DisplayLabel()
	dc.SetFontFace(truetype.NewFace(overlayFont, &truetype.Options{Size: labelFontSize}))
	tw, th := dc.MeasureString(label)

	// Label sits above the box, or inside its top edge when clipped.
	lx := float64(box.X1)
	ly := float64(box.Y1) - th - 8
	if ly < 0 {
		ly = float64(box.Y1) + 2
	}

	setColorAlpha(dc, c, alpha)
	dc.DrawRectangle(lx, ly, tw+10, th+6)
	dc.Fill()

	setColorAlpha(dc, color.RGBA{R: 255, G: 255, B: 255, A: 255}, alpha)
	dc.DrawString(label, lx+5, ly+th+1)
}

func (r *Renderer) drawBanners(dc *gg.Context, banners []Banner) {
	if len(banners) == 0 {
		return
	}

	dc.SetFontFace(truetype.NewFace(overlayFont, &truetype.Options{Size: bannerFontSize}))
	for i, b := range banners {
		c := faceColor
		switch b.Kind {
		case types.AlertCriminal:
			c = confirmedColor
		case types.AlertMask:
			c = maskColor
		}

		y := float64(i) * bannerHeight
		setColorAlpha(dc, c, 0.85)
		dc.DrawRectangle(0, y, float64(dc.Width()), bannerHeight)
		dc.Fill()

		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(b.Text, 10, y+bannerHeight/2, 0, 0.35)
	}
}

func (r *Renderer) drawPlaceholder(dc *gg.Context, now time.Time) {
	setColorAlpha(dc, placeholderBG, 1)
	dc.DrawRectangle(0, 0, float64(dc.Width()), float64(dc.Height()))
	dc.Fill()

	dc.SetFontFace(truetype.NewFace(overlayFont, &truetype.Options{Size: 22}))
	dc.SetRGB(0.55, 0.58, 0.62)
	dc.DrawStringAnchored("WAITING FOR CAMERA", float64(dc.Width())/2, float64(dc.Height())/2, 0.5, 0.5)

	dc.SetFontFace(truetype.NewFace(overlayFont, &truetype.Options{Size: 13}))
	dc.DrawStringAnchored(now.Format("15:04:05"), float64(dc.Width())/2, float64(dc.Height())/2+26, 0.5, 0.5)
}

func setColorAlpha(dc *gg.Context, c color.RGBA, alpha float64) {
	dc.SetRGBA(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255, alpha)
}

// Stats reports renderer counters.
type Stats struct {
	Rendered         uint64 `json:"rendered"`
	RenderErrors     uint64 `json:"render_errors"`
	BannersRaised    uint64 `json:"banners_raised"`
	BannersExpired   uint64 `json:"banners_expired"`
	BannersDismissed uint64 `json:"banners_dismissed"`
	ActiveBanners    int    `json:"active_banners"`
}

// Stats returns current counters.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	active := len(r.banners)
	r.mu.Unlock()

	return Stats{
		Rendered:         atomic.LoadUint64(&r.rendered),
		RenderErrors:     atomic.LoadUint64(&r.renderErrors),
		BannersRaised:    atomic.LoadUint64(&r.bannersRaised),
		BannersExpired:   atomic.LoadUint64(&r.bannersExpired),
		BannersDismissed: atomic.LoadUint64(&r.bannersDismissed),
		ActiveBanners:    active,
	}
}
