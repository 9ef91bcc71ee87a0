// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentclient

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/models"
)

// Syncer refreshes client_searchee rows from live client state so identity
// checks and conflict resolution see what the clients actually hold.
type Syncer struct {
	drivers             []Driver
	clientSearcheeStore *models.ClientSearcheeStore
}

func NewSyncer(drivers []Driver, clientSearcheeStore *models.ClientSearcheeStore) *Syncer {
	return &Syncer{
		drivers:             drivers,
		clientSearcheeStore: clientSearcheeStore,
	}
}

func (s *Syncer) Drivers() []Driver {
	return s.drivers
}

// DriversForHost returns the drivers whose host appears in hosts.
func (s *Syncer) DriversForHost(hosts []string) []Driver {
	wanted := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		wanted[h] = struct{}{}
	}

	var out []Driver
	for _, d := range s.drivers {
		if _, ok := wanted[d.Host()]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Sync replaces each client's rows with its current torrent list. Per-client
// failures are logged and skipped so one unreachable client doesn't wipe the
// rest of the mirror.
func (s *Syncer) Sync(ctx context.Context) error {
	for _, driver := range s.drivers {
		torrents, err := driver.ListTorrents(ctx)
		if err != nil {
			log.Warn().Err(err).Str("client", driver.Host()).Msg("Client sync failed, keeping stale rows")
			continue
		}

		if err := s.clientSearcheeStore.DeleteForHost(ctx, driver.Host()); err != nil {
			return err
		}

		for _, t := range torrents {
			row := &models.ClientSearchee{
				InfoHash:   t.InfoHash,
				ClientHost: driver.Host(),
				Name:       t.Name,
				Trackers:   t.Trackers,
				Private:    t.Private,
			}
			if err := s.clientSearcheeStore.Upsert(ctx, row); err != nil {
				return err
			}
		}

		log.Debug().Str("client", driver.Host()).Int("torrents", len(torrents)).
			Msg("Client sync complete")
	}

	return nil
}

// ExcludedInfoHashes returns the info-hashes currently held by any client,
// which the decision engine treats as collisions.
func (s *Syncer) ExcludedInfoHashes(ctx context.Context) (map[string]struct{}, error) {
	return s.clientSearcheeStore.AllInfoHashes(ctx)
}
