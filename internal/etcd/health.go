package etcd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// CheckQuorum verifies that a majority of voting members answer status
// requests and that one of them reports a leader.
func (s *Session) CheckQuorum(ctx context.Context) error {
	memberCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	memberList, err := s.client.MemberList(memberCtx)
	if err != nil {
		return fmt.Errorf("failed to get member list: %w", err)
	}

	if len(memberList.Members) == 0 {
		return fmt.Errorf("cluster has no members")
	}

	votingMembers := 0
	for _, member := range memberList.Members {
		if !member.IsLearner {
			votingMembers++
		}
	}

	if votingMembers == 0 {
		return fmt.Errorf("cluster has no voting members")
	}

	quorumRequired := (votingMembers / 2) + 1

	healthyMembers := 0
	hasLeader := false

	for _, member := range memberList.Members {
		if member.IsLearner || len(member.ClientURLs) == 0 {
			continue
		}

		endpoint := member.ClientURLs[0]
		statusCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		status, err := s.client.Status(statusCtx, endpoint)
		cancel()

		if err != nil {
			s.logger.Debugw("Member unhealthy",
				"member_id", fmt.Sprintf("%x", member.ID),
				"endpoint", endpoint,
				"error", err,
			)
			continue
		}

		healthyMembers++
		if status.Leader != 0 {
			hasLeader = true
		}
		s.logger.Debugw("Member healthy",
			"member_id", fmt.Sprintf("%x", member.ID),
			"endpoint", endpoint,
		)
	}

	if healthyMembers < quorumRequired {
		return fmt.Errorf("insufficient healthy members: %d/%d required %d",
			healthyMembers, votingMembers, quorumRequired)
	}

	if !hasLeader {
		return fmt.Errorf("cluster has no leader")
	}

	s.logger.Debugw("Store quorum validated",
		"healthy_members", healthyMembers,
		"voting_members", votingMembers,
		"quorum_required", quorumRequired,
	)

	return nil
}

// LoadTLSConfig loads a client certificate and, when caPath is set, the CA
// bundle used to verify the store.
func LoadTLSConfig(certPath, keyPath, caPath string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if certPath != "" || keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificates: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if caPath != "" {
		caCert, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
