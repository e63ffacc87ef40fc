// Package badgerstate persists channel state in a local badger database,
// standing in for the on-flash key/value store of the original hardware: it
// survives a full power cycle, not just a process restart.
package badgerstate

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/espnow-hub/espnow-hub-pro/internal/storage"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// role-namespaced keys
var (
	keySenderChannel = []byte("sender/channel")
	keySenderHubAddr = []byte("sender/hub_addr")
	keyHubChannel    = []byte("hub/channel")
)

// Store implements storage.ChannelStateStore on badger
type Store struct {
	db *badger.DB
}

var _ storage.ChannelStateStore = (*Store)(nil)

// Open opens (or creates) the state database in dir
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	return val, err
}

func (s *Store) set(key, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// LoadSenderState returns the remembered channel and hub address
func (s *Store) LoadSenderState() (*storage.SenderState, error) {
	ch, err := s.get(keySenderChannel)
	if err != nil {
		return nil, err
	}
	if len(ch) != 1 || !espnow.ValidChannel(ch[0]) {
		return nil, fmt.Errorf("corrupt sender channel entry")
	}

	st := &storage.SenderState{Channel: ch[0]}

	addr, err := s.get(keySenderHubAddr)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// a channel without a hub address is fine: discovery has not
		// completed yet, or the destination is configured statically
	case err != nil:
		return nil, err
	case len(addr) != 6:
		return nil, fmt.Errorf("corrupt hub address entry")
	default:
		copy(st.HubAddr[:], addr)
	}

	return st, nil
}

// SaveSenderState persists the channel and, when known, the hub address
func (s *Store) SaveSenderState(st *storage.SenderState) error {
	if !espnow.ValidChannel(st.Channel) {
		return espnow.ErrInvalidChannel
	}
	if err := s.set(keySenderChannel, []byte{st.Channel}); err != nil {
		return err
	}
	if !st.HubAddr.IsZero() && !st.HubAddr.IsBroadcast() {
		return s.set(keySenderHubAddr, st.HubAddr[:])
	}
	return nil
}

// LoadHubChannel returns the hub's rotation counter
func (s *Store) LoadHubChannel() (uint8, error) {
	val, err := s.get(keyHubChannel)
	if err != nil {
		return 0, err
	}
	if len(val) != 1 || !espnow.ValidChannel(val[0]) {
		return 0, fmt.Errorf("corrupt hub channel entry")
	}
	return val[0], nil
}

// SaveHubChannel persists the hub's rotation counter
func (s *Store) SaveHubChannel(ch uint8) error {
	if !espnow.ValidChannel(ch) {
		return espnow.ErrInvalidChannel
	}
	return s.set(keyHubChannel, []byte{ch})
}
