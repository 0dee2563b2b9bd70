package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"coordmutex/pkg/coordination"
)

const nodesPrefix = "/coordmutex/nodes/"

type EtcdCoordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
}

var _ coordination.Coordinator = (*EtcdCoordinator)(nil)

// NewEtcdCoordinator connects and opens a session whose lease, kept alive by
// heartbeats, owns every key this coordinator writes.
func NewEtcdCoordinator(endpoints []string, ttl int) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	return &EtcdCoordinator{
		client:  cli,
		session: sess,
	}, nil
}

func (c *EtcdCoordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

func (c *EtcdCoordinator) NewElection(name string) coordination.Election {
	e := concurrency.NewElection(c.session, "/coordmutex/elections/"+name)
	return &EtcdElection{election: e}
}

// EtcdElection wraps the etcd concurrency.Election struct
type EtcdElection struct {
	election *concurrency.Election
}

// Campaign proclaims the new value when this session already leads.
func (e *EtcdElection) Campaign(ctx context.Context, value string) error {
	err := e.election.Proclaim(ctx, value)
	if err == nil {
		return nil
	}
	if !errors.Is(err, concurrency.ErrElectionNotLeader) {
		return err
	}
	return e.election.Campaign(ctx, value)
}

func (e *EtcdElection) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *EtcdElection) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if errors.Is(err, concurrency.ErrElectionNoLeader) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(resp.Kvs[0].Value), nil
}

func (c *EtcdCoordinator) RegisterNode(ctx context.Context, nodeID string) error {
	_, err := c.client.Put(ctx, nodesPrefix+nodeID, "ONLINE", clientv3.WithLease(c.session.Lease()))
	if err != nil {
		return fmt.Errorf("failed to put node key: %w", err)
	}
	return nil
}

func (c *EtcdCoordinator) DeregisterNode(ctx context.Context, nodeID string) error {
	if _, err := c.client.Delete(ctx, nodesPrefix+nodeID); err != nil {
		return fmt.Errorf("failed to delete node key: %w", err)
	}
	return nil
}

func (c *EtcdCoordinator) GetActiveNodes(ctx context.Context) ([]string, error) {
	resp, err := c.client.Get(ctx, nodesPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if id := strings.TrimPrefix(string(kv.Key), nodesPrefix); id != "" {
			nodes = append(nodes, id)
		}
	}
	return nodes, nil
}
