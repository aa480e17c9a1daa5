package etcd

import (
	"context"
	"sort"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/Ajpantuso/hactl/internal/cluster"
)

// Children returns the distinct first path segments below path. A missing
// parent yields an empty list, not ErrNoNode.
func (s *Session) Children(ctx context.Context, path string) ([]string, error) {
	prefix := childPrefix(path)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return childNames(prefix, keys), nil
}

func (s *Session) Get(ctx context.Context, path string) (*Node, error) {
	resp, err := s.client.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNoNode
	}

	kv := resp.Kvs[0]
	return &Node{
		Value:   kv.Value,
		Version: kv.Version,
		Owner:   kv.Lease,
	}, nil
}

// Create writes path only if it does not exist. Ephemeral nodes are bound to
// the current session.
func (s *Session) Create(ctx context.Context, path string, value []byte, ephemeral bool) error {
	var opts []clientv3.OpOption
	if ephemeral {
		id, ok := s.SessionID()
		if !ok {
			return ErrNoSession
		}
		opts = append(opts, clientv3.WithLease(clientv3.LeaseID(id)))
	}

	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, string(value), opts...)).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return ErrNodeExists
	}
	return nil
}

// Set overwrites an existing node, keeping its owner. A checked expected
// version must match the node's current version.
func (s *Session) Set(ctx context.Context, path string, value []byte, expected cluster.ExpectedVersion) error {
	resp, err := s.client.Txn(ctx).
		If(existsAt(path, expected)).
		Then(clientv3.OpPut(path, string(value), clientv3.WithIgnoreLease())).
		Else(clientv3.OpGet(path, clientv3.WithCountOnly())).
		Commit()
	if err != nil {
		return err
	}
	return guardResult(resp, expected)
}

func (s *Session) Delete(ctx context.Context, path string, expected cluster.ExpectedVersion) error {
	resp, err := s.client.Txn(ctx).
		If(existsAt(path, expected)).
		Then(clientv3.OpDelete(path)).
		Else(clientv3.OpGet(path, clientv3.WithCountOnly())).
		Commit()
	if err != nil {
		return err
	}
	return guardResult(resp, expected)
}

func existsAt(path string, expected cluster.ExpectedVersion) clientv3.Cmp {
	if v, ok := expected.Get(); ok {
		return clientv3.Compare(clientv3.Version(path), "=", v)
	}
	return clientv3.Compare(clientv3.CreateRevision(path), ">", 0)
}

func guardResult(resp *clientv3.TxnResponse, expected cluster.ExpectedVersion) error {
	if resp.Succeeded {
		return nil
	}
	if _, checked := expected.Get(); checked && len(resp.Responses) > 0 {
		if rng := resp.Responses[0].GetResponseRange(); rng != nil && rng.Count > 0 {
			return ErrBadVersion
		}
	}
	return ErrNoNode
}

func childPrefix(path string) string {
	return strings.TrimSuffix(path, "/") + "/"
}

func childNames(prefix string, keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
