package projection

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swipe/offline-catalog/app/logger"
	"github.com/swipe/offline-catalog/models"
)

// DefaultDebounce is the quiet period before a search query is applied.
const DefaultDebounce = 300 * time.Millisecond

// Source is the product feed a projection is built on.
type Source interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	ObserveProducts(ctx context.Context) <-chan models.ProductList
}

type Option func(*Projection)

func WithDebounce(d time.Duration) Option {
	return func(p *Projection) { p.debounce = d }
}

func WithLogger(log *logrus.Entry) Option {
	return func(p *Projection) { p.log = log }
}

// Projection combines the live product stream with a debounced search query
// and a category filter. Output is latest-wins: a slow reader skips stale
// states instead of queueing them.
type Projection struct {
	src      Source
	debounce time.Duration
	log      *logrus.Entry

	query  *cell
	filter *cell
	out    chan State

	mu   sync.Mutex
	last State
	once sync.Once
}

func New(src Source, opts ...Option) *Projection {
	p := &Projection{
		src:      src,
		debounce: DefaultDebounce,
		log:      logger.Discard(),
		query:    newCell(""),
		filter:   newCell(models.CategoryAll),
		out:      make(chan State, 1),
		last:     State{Kind: Loading},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Projection) SetQuery(q string) { p.query.set(q) }

func (p *Projection) SetFilter(f string) { p.filter.set(f) }

// Current returns the most recently published state.
func (p *Projection) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Start runs the projection until ctx is done, then closes the returned
// channel. It also fires one network refresh. Calling Start again returns
// the same channel.
func (p *Projection) Start(ctx context.Context) <-chan State {
	p.once.Do(func() { go p.run(ctx) })
	return p.out
}

func (p *Projection) run(ctx context.Context) {
	defer close(p.out)
	p.publish(State{Kind: Loading})

	refreshErr := make(chan error, 1)
	go func() {
		if _, err := p.src.GetProducts(ctx); err != nil && ctx.Err() == nil {
			refreshErr <- err
		}
	}()

	var (
		products     = p.src.ObserveProducts(ctx)
		latest       []models.Product
		haveProducts bool
		query        = p.query.get()
		filter       = p.filter.get()
		debounce     *time.Timer
		debounceC    <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	recompute := func() {
		if !haveProducts {
			return
		}
		p.publish(Classify(Apply(latest, query, filter), query))
	}

	for {
		select {
		case <-ctx.Done():
			return

		case list, ok := <-products:
			if !ok {
				products = nil
				continue
			}
			if list.Err != nil {
				p.log.WithError(list.Err).Error("product stream failed")
				p.publish(State{Kind: Error, Message: list.Err.Error()})
				continue
			}
			latest, haveProducts = list.Products, true
			recompute()

		case err := <-refreshErr:
			p.log.WithError(err).Warn("initial product refresh failed")
			p.publish(State{Kind: Error, Message: err.Error()})

		case <-p.query.changed:
			if debounce == nil {
				debounce = time.NewTimer(p.debounce)
			} else {
				debounce.Reset(p.debounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			if q := p.query.get(); q != query {
				query = q
				recompute()
			}

		case <-p.filter.changed:
			if f := p.filter.get(); f != filter {
				filter = f
				recompute()
			}
		}
	}
}

// publish replaces any unread state. Only run sends on out, so the send
// after the drain never blocks.
func (p *Projection) publish(s State) {
	p.mu.Lock()
	p.last = s
	p.mu.Unlock()

	select {
	case <-p.out:
	default:
	}
	p.out <- s
}

// cell holds the latest value of an input and signals changes without
// blocking the writer.
type cell struct {
	mu      sync.Mutex
	value   string
	changed chan struct{}
}

func newCell(v string) *cell {
	return &cell{value: v, changed: make(chan struct{}, 1)}
}

func (c *cell) set(v string) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()

	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *cell) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
