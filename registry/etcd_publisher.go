package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"mini-lpc/message"
)

const (
	DefaultEtcdPrefix = "/mini-lpc"
	DefaultEtcdTTL    = 10 * time.Second
)

// EtcdConfig configures an EtcdPublisher.
type EtcdConfig struct {
	Endpoints   []string
	Prefix      string
	TTL         time.Duration
	DialTimeout time.Duration
}

// EtcdPublisher mirrors the broker's registrations into etcd so other tools can
// discover and watch installed services:
//
//	Key:   {prefix}{accessPath}
//	Value: JSON-encoded message.Registration
//
// All keys hang off one lease owned by the broker and renewed with KeepAlive.
// When the broker stops, the lease is revoked (or expires after a crash), so no
// registration outlives the broker that accepted it.
type EtcdPublisher struct {
	client  *clientv3.Client
	prefix  string
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	log     zerolog.Logger
}

var _ Publisher = (*EtcdPublisher)(nil)

// NewEtcdPublisher connects to etcd and grants the lease every published key
// is attached to.
func NewEtcdPublisher(ctx context.Context, cfg EtcdConfig, log zerolog.Logger) (*EtcdPublisher, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("registry: no etcd endpoints")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultEtcdPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultEtcdTTL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, err
	}

	ttl := int64(cfg.TTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	lease, err := c.Grant(ctx, ttl)
	if err != nil {
		c.Close()
		return nil, err
	}

	// KeepAlive runs until Close; its context must outlive ctx.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := c.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		c.Close()
		return nil, err
	}
	go func() {
		for range ch {
		}
	}()

	return &EtcdPublisher{
		client:  c,
		prefix:  strings.TrimSuffix(cfg.Prefix, "/"),
		leaseID: lease.ID,
		cancel:  cancel,
		log:     log.With().Str("component", "etcd-publisher").Logger(),
	}, nil
}

func (p *EtcdPublisher) key(accessPath string) string {
	if !strings.HasPrefix(accessPath, "/") {
		accessPath = "/" + accessPath
	}
	return p.prefix + accessPath
}

// Publish stores reg under its access path, replacing any previous value.
func (p *EtcdPublisher) Publish(ctx context.Context, reg message.Registration) error {
	val, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	_, err = p.client.Put(ctx, p.key(reg.AccessPath), string(val), clientv3.WithLease(p.leaseID))
	return err
}

// Withdraw removes the key for accessPath.
func (p *EtcdPublisher) Withdraw(ctx context.Context, accessPath string) error {
	_, err := p.client.Delete(ctx, p.key(accessPath))
	return err
}

// Discover reads the registration for accessPath.
func (p *EtcdPublisher) Discover(ctx context.Context, accessPath string) (message.Registration, bool, error) {
	resp, err := p.client.Get(ctx, p.key(accessPath))
	if err != nil {
		return message.Registration{}, false, err
	}
	if len(resp.Kvs) == 0 {
		return message.Registration{}, false, nil
	}
	var reg message.Registration
	if err := json.Unmarshal(resp.Kvs[0].Value, &reg); err != nil {
		return message.Registration{}, false, err
	}
	return reg, true, nil
}

// List returns every mirrored registration.
func (p *EtcdPublisher) List(ctx context.Context) ([]message.Registration, error) {
	resp, err := p.client.Get(ctx, p.prefix+"/", clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}
	regs := make([]message.Registration, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var reg message.Registration
		if err := json.Unmarshal(kv.Value, &reg); err != nil {
			p.log.Warn().Err(err).Str("key", string(kv.Key)).Msg("Skipping malformed registration")
			continue
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// Watch emits the full registration list after every change under the prefix,
// until ctx is done.
func (p *EtcdPublisher) Watch(ctx context.Context) <-chan []message.Registration {
	ch := make(chan []message.Registration, 1)
	go func() {
		defer close(ch)
		for range p.client.Watch(ctx, p.prefix+"/", clientv3.WithPrefix()) {
			regs, err := p.List(ctx)
			if err != nil {
				p.log.Warn().Err(err).Msg("Watch refresh failed")
				continue
			}
			select {
			case ch <- regs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close revokes the lease, dropping every published key, and closes the client.
func (p *EtcdPublisher) Close() error {
	p.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, revokeErr := p.client.Revoke(ctx, p.leaseID)
	return errors.Join(revokeErr, p.client.Close())
}
