// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"iter"

	"github.com/LeeDigitalWorks/tams/pkg/types"
)

// IterSegments returns an iterator that yields every segment matching q.
// The iterator handles pagination internally.
func IterSegments(ctx context.Context, store SegmentStore, q *SegmentQuery) iter.Seq2[*types.Segment, error] {
	return func(yield func(*types.Segment, error) bool) {
		p := &SegmentQuery{}
		if q != nil {
			*p = *q
		}
		if p.Limit <= 0 {
			p.Limit = 1000
		}

		for {
			page, err := store.QuerySegments(ctx, p)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, seg := range page.Segments {
				if !yield(seg, nil) {
					return
				}
			}

			if page.LastEvaluatedKey == nil {
				return
			}
			p.ExclusiveStartKey = page.LastEvaluatedKey
		}
	}
}
