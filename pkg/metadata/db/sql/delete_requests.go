// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/types"
)

func (s *Store) PutDeleteRequest(ctx context.Context, req *types.DeleteRequest) error {
	doc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode delete request: %w", err)
	}
	query := "INSERT INTO delete_requests (id, flow_id, status, created_at, doc) VALUES ($1, $2, $3, $4, $5)" +
		s.dialect.UpsertSuffix("id", []string{"status", "doc"})
	if _, err := s.Exec(ctx, query, req.ID, req.FlowID, string(req.Status), req.Created.UnixNano(), string(doc)); err != nil {
		return fmt.Errorf("put delete request: %w", err)
	}
	return nil
}

func decodeDeleteRequest(doc string) (*types.DeleteRequest, error) {
	var req types.DeleteRequest
	if err := json.Unmarshal([]byte(doc), &req); err != nil {
		return nil, fmt.Errorf("decode delete request: %w", err)
	}
	return &req, nil
}

func (s *Store) GetDeleteRequest(ctx context.Context, id string) (*types.DeleteRequest, error) {
	var doc string
	if err := s.QueryRow(ctx, "SELECT doc FROM delete_requests WHERE id = $1", id).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrDeleteRequestNotFound
		}
		return nil, fmt.Errorf("get delete request: %w", err)
	}
	return decodeDeleteRequest(doc)
}

func (s *Store) ListDeleteRequests(ctx context.Context, flowID string) ([]*types.DeleteRequest, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if flowID == "" {
		rows, err = s.Query(ctx, "SELECT doc FROM delete_requests ORDER BY created_at, id")
	} else {
		rows, err = s.Query(ctx, "SELECT doc FROM delete_requests WHERE flow_id = $1 ORDER BY created_at, id", flowID)
	}
	if err != nil {
		return nil, fmt.Errorf("list delete requests: %w", err)
	}
	defer rows.Close()

	var out []*types.DeleteRequest
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan delete request: %w", err)
		}
		req, err := decodeDeleteRequest(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDeleteRequest(ctx context.Context, id string) error {
	res, err := s.Exec(ctx, "DELETE FROM delete_requests WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete delete request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.ErrDeleteRequestNotFound
	}
	return nil
}
