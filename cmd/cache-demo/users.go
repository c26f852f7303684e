package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

var errUserNotFound = errors.New("user not found")

type GetUserArgs struct {
	UserID int `json:"user_id"`
}

type User struct {
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
}

type ListUsersArgs struct {
	Limit int `json:"limit"`
}

type Stats struct {
	Users       int       `json:"users"`
	Lookups     int64     `json:"lookups"`
	GeneratedAt time.Time `json:"generated_at"`
}

// directory is the slow backend the demo puts the cache in front of.
type directory struct {
	size    int
	latency time.Duration
	lookups atomic.Int64
}

func (d *directory) wait(ctx context.Context) error {
	if d.latency <= 0 {
		return nil
	}
	t := time.NewTimer(d.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *directory) getUser(ctx context.Context, args GetUserArgs) (User, error) {
	d.lookups.Add(1)
	if err := d.wait(ctx); err != nil {
		return User{}, err
	}
	if args.UserID < 1 || args.UserID > d.size {
		return User{}, errors.Wrapf(errUserNotFound, "user %d", args.UserID)
	}
	return User{UserID: args.UserID, Name: fmt.Sprintf("User_%d", args.UserID)}, nil
}

func (d *directory) listUsers(ctx context.Context, args ListUsersArgs) ([]User, error) {
	d.lookups.Add(1)
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 || limit > d.size {
		limit = d.size
	}
	users := make([]User, limit)
	for i := range users {
		users[i] = User{UserID: i + 1, Name: fmt.Sprintf("User_%d", i+1)}
	}
	return users, nil
}

func (d *directory) globalStats(ctx context.Context, _ struct{}) (Stats, error) {
	if err := d.wait(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{Users: d.size, Lookups: d.lookups.Load(), GeneratedAt: time.Now().UTC()}, nil
}
