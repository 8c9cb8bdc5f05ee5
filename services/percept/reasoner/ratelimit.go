// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reasoner

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client with a token-bucket limiter so a chatty room
// cannot hammer the reasoning backend. Wait blocks until a token is
// available or ctx expires, so the classifier's own timeout still bounds
// the whole call.
type RateLimited struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute completions with a burst of burst.
func NewRateLimited(inner Client, perMinute int, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

// Name implements Client.
func (r *RateLimited) Name() string { return r.inner.Name() }

// Complete implements Client.
func (r *RateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Complete(ctx, prompt)
}
