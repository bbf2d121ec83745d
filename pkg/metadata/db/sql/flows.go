// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/types"
)

func putFlow(ctx context.Context, q Querier, flow *types.Flow) error {
	doc, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("encode flow: %w", err)
	}
	query := "INSERT INTO flows (id, source_id, doc, updated_at) VALUES ($1, $2, $3, $4)" +
		q.Dialect().UpsertSuffix("id", []string{"source_id", "doc", "updated_at"})
	_, err = q.Exec(ctx, query, flow.ID, flow.SourceID, string(doc), time.Now().UTC())
	return err
}

func getFlow(ctx context.Context, q Querier, id string, forUpdate bool) (*types.Flow, error) {
	query := "SELECT doc FROM flows WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var doc string
	if err := q.QueryRow(ctx, query, id).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrFlowNotFound
		}
		return nil, err
	}
	var flow types.Flow
	if err := json.Unmarshal([]byte(doc), &flow); err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", id, err)
	}
	return &flow, nil
}

func (s *Store) PutFlow(ctx context.Context, flow *types.Flow) error {
	if err := putFlow(ctx, s, flow); err != nil {
		return fmt.Errorf("put flow: %w", err)
	}
	return nil
}

func (s *Store) GetFlow(ctx context.Context, id string) (*types.Flow, error) {
	flow, err := getFlow(ctx, s, id, false)
	if err != nil && !errors.Is(err, db.ErrFlowNotFound) {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return flow, err
}

func (s *Store) DeleteFlow(ctx context.Context, id string) error {
	res, err := s.Exec(ctx, "DELETE FROM flows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.ErrFlowNotFound
	}
	return nil
}

func (s *Store) TouchSegmentsUpdated(ctx context.Context, id string, at time.Time) error {
	err := s.WithTx(ctx, func(q Querier) error {
		flow, err := getFlow(ctx, q, id, true)
		if err != nil {
			return err
		}
		t := at.UTC()
		flow.SegmentsUpdated = &t
		return putFlow(ctx, q, flow)
	})
	if err != nil && !errors.Is(err, db.ErrFlowNotFound) {
		return fmt.Errorf("touch segments_updated: %w", err)
	}
	return err
}
