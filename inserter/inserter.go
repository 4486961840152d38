// Package inserter implements an artifact that follows a publisher and
// mirrors its JSON payloads into an NGSI-LD context broker, creating the
// entity on first sight and patching its attributes afterwards.
package inserter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/purposeinplay/go-artifact/artifact"
	"github.com/purposeinplay/go-artifact/blockingqueue"
	"github.com/purposeinplay/go-artifact/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const entitiesPath = "/ngsi-ld/v1/entities"

// Ensure type inserter.Inserter implements the artifact runner interfaces.
var (
	_ artifact.Runner   = (*Inserter)(nil)
	_ artifact.Setupper = (*Inserter)(nil)
)

// Config configures an Inserter.
type Config struct {
	// BrokerURL is the broker base URL, e.g. http://orion:1026.
	BrokerURL string
	// Tenant is sent as the NGSILD-Tenant header when set.
	Tenant string
	// Publisher is the artifact whose topic is followed.
	Publisher string
	// Context is the raw JSON-LD @context added to every request.
	Context string
	// Columns restricts updates to these attributes. Empty updates all of
	// them and creates missing entities.
	Columns []string
	// Process splits a received payload into the payloads to insert,
	// identity by default.
	Process func(payload string) ([]string, error)
	// Concurrency bounds the parallel attribute updates, 4 by default.
	Concurrency int

	Client *http.Client
	Logger *zap.Logger
}

// Inserter is the artifact body. It queues received payloads and sends them
// to the broker in order.
type Inserter struct {
	cfg    Config
	queue  *blockingqueue.Queue[string]
	logger *zap.Logger
}

// New returns an Inserter for cfg.
func New(cfg Config) *Inserter {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	if cfg.Process == nil {
		cfg.Process = func(payload string) ([]string, error) {
			return []string{payload}, nil
		}
	}

	cfg.BrokerURL = strings.TrimRight(cfg.BrokerURL, "/")

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Inserter{
		cfg:    cfg,
		queue:  blockingqueue.New[string](),
		logger: logger,
	}
}

// Setup marks the artifact available and links it to the publisher.
func (i *Inserter) Setup(ctx context.Context, a *artifact.Artifact) error {
	if i.cfg.Logger == nil {
		i.logger = a.Logger()
	}

	if err := a.Presence().SetAvailable(); err != nil {
		return fmt.Errorf("set available: %w", err)
	}

	if err := a.Link(ctx, i.cfg.Publisher, i.Receive); err != nil {
		i.logger.Error("could not link to publisher", zap.String("publisher", i.cfg.Publisher), zap.Error(err))

		return fmt.Errorf("link publisher: %w", err)
	}

	return nil
}

// Receive queues the payloads derived from an item of the publisher.
func (i *Inserter) Receive(publisher, payload string) error {
	i.logger.Debug("received", zap.String("publisher", publisher))

	items, err := i.cfg.Process(payload)
	if err != nil {
		return fmt.Errorf("process payload: %w", err)
	}

	for _, item := range items {
		i.queue.Push(item)
	}

	return nil
}

// Pending returns the number of queued payloads.
func (i *Inserter) Pending() int {
	return i.queue.Len()
}

// Run sends queued payloads until ctx is done. Failures are logged and the
// next payload is processed.
func (i *Inserter) Run(ctx context.Context, a *artifact.Artifact) error {
	for {
		payload, ok := i.queue.Take(ctx)
		if !ok {
			return ctx.Err()
		}

		if err := i.Insert(ctx, payload); err != nil {
			i.logger.Error("insert failed", zap.Error(err))
			a.Metrics().FetchFailed(a.Topic())
		}
	}
}

// Insert creates or updates the entity described by payload.
func (i *Inserter) Insert(ctx context.Context, payload string) error {
	const op = "inserter.insert"

	e, err := parseEntity(payload)
	if err != nil {
		return errors.E(errors.KindDataSource, op, err)
	}

	if len(i.cfg.Columns) > 0 {
		return i.updateAttributes(ctx, e, i.cfg.Columns)
	}

	exists, err := i.exists(ctx, e.id)
	if err != nil {
		return errors.E(errors.KindDataSource, op, err)
	}

	if !exists {
		if err := i.create(ctx, e); err != nil {
			return errors.E(errors.KindDataSource, op, err)
		}

		return nil
	}

	return i.updateAttributes(ctx, e, nil)
}

func (i *Inserter) entityURL(id string, parts ...string) string {
	u := i.cfg.BrokerURL + entitiesPath

	if id == "" {
		return u
	}

	u += "/" + url.PathEscape(id)

	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}

	return u
}

func (i *Inserter) exists(ctx context.Context, id string) (bool, error) {
	status, _, err := i.do(ctx, http.MethodGet, i.entityURL(id), nil)
	if err != nil {
		return false, err
	}

	return status == http.StatusOK, nil
}

func (i *Inserter) create(ctx context.Context, e entity) error {
	doc, err := e.document(i.cfg.Context)
	if err != nil {
		return err
	}

	status, body, err := i.do(ctx, http.MethodPost, i.entityURL(""), doc)
	if err != nil {
		return err
	}

	if status != http.StatusCreated {
		return fmt.Errorf("create entity %s: status code %d: %s", e.id, status, body)
	}

	i.logger.Info("entity created", zap.String("entity", e.id))

	return nil
}

// updateAttributes patches the attributes of e, restricted to columns when
// given.
func (i *Inserter) updateAttributes(ctx context.Context, e entity, columns []string) error {
	selected := e.attributes

	if columns != nil {
		byName := make(map[string]attribute, len(e.attributes))
		for _, a := range e.attributes {
			byName[a.name] = a
		}

		selected = selected[:0:0]

		for _, col := range columns {
			a, ok := byName[col]
			if !ok {
				i.logger.Warn("column not in payload", zap.String("column", col), zap.String("entity", e.id))
				continue
			}

			selected = append(selected, a)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(i.cfg.Concurrency)

	for _, a := range selected {
		a := a

		eg.Go(func() error {
			return i.updateAttribute(egCtx, e.id, a)
		})
	}

	if err := eg.Wait(); err != nil {
		return errors.E(errors.KindDataSource, "inserter.update", err)
	}

	return nil
}

// updateAttribute patches one attribute, appending it when the broker
// reports it missing.
func (i *Inserter) updateAttribute(ctx context.Context, id string, a attribute) error {
	body, err := a.body(i.cfg.Context)
	if err != nil {
		return err
	}

	status, resp, err := i.do(ctx, http.MethodPatch, i.entityURL(id, "attrs", a.name), body)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusNoContent:
		return nil
	case http.StatusMultiStatus, http.StatusNotFound:
	default:
		return fmt.Errorf("patch %s of %s: status code %d: %s", a.name, id, status, resp)
	}

	i.logger.Debug("attribute missing, appending", zap.String("attribute", a.name), zap.String("entity", id))

	attrs, err := attributesDocument(a, i.cfg.Context)
	if err != nil {
		return err
	}

	status, resp, err = i.do(ctx, http.MethodPost, i.entityURL(id, "attrs"), attrs)
	if err != nil {
		return err
	}

	if status != http.StatusNoContent {
		return fmt.Errorf("append %s to %s: status code %d: %s", a.name, id, status, resp)
	}

	return nil
}

func (i *Inserter) do(ctx context.Context, method, u string, body []byte) (int, string, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return 0, "", fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/ld+json")

	if i.cfg.Tenant != "" {
		req.Header.Set("NGSILD-Tenant", i.cfg.Tenant)
	}

	resp, err := i.cfg.Client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s %s: %w", method, u, err)
	}

	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, "", fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, string(b), nil
}
