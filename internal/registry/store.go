package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Store is the flat-file wallet store: the whole file is read into
// memory at startup and rewritten in full on every mutation. All writers
// go through one mutex, the lost-update race of a naive
// load-mutate-rewrite cycle cannot occur here.
type Store struct {
	mu      sync.Mutex
	path    string
	wallets map[string]*UserWallet
}

// OpenStore loads the store from path, creating an empty one when the
// file does not exist yet.
func OpenStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		wallets: make(map[string]*UserWallet),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "failed to read wallet store %s", path)
	}

	if len(raw) == 0 {
		return s, nil
	}

	var wallets []*UserWallet
	if err := json.Unmarshal(raw, &wallets); err != nil {
		return nil, errors.Wrapf(err, "failed to parse wallet store %s", path)
	}

	for _, w := range wallets {
		s.wallets[w.Key()] = w
	}

	return s, nil
}

// Get returns the wallet for (userID, role), or nil.
func (s *Store) Get(userID, role string) *UserWallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneWallet(s.wallets[walletKey(userID, role)])
}

// All returns a snapshot of every stored wallet.
func (s *Store) All() []*UserWallet {
	s.mu.Lock()
	defer s.mu.Unlock()

	wallets := make([]*UserWallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		wallets = append(wallets, cloneWallet(w))
	}
	return wallets
}

// Put upserts the wallet and rewrites the backing file.
func (s *Store) Put(wallet *UserWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallets[wallet.Key()] = cloneWallet(wallet)
	return s.flush()
}

// flush rewrites the entire store atomically (temp file + rename).
// Callers hold s.mu.
func (s *Store) flush() error {
	wallets := make([]*UserWallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		wallets = append(wallets, w)
	}

	raw, err := json.MarshalIndent(wallets, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal wallet store")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".wallets-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp store file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to write temp store file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to close temp store file")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to replace wallet store")
	}

	return nil
}

func cloneWallet(w *UserWallet) *UserWallet {
	if w == nil {
		return nil
	}

	clone := *w
	clone.ChainWallets = make(map[string]ChainWallet, len(w.ChainWallets))
	for tag, cw := range w.ChainWallets {
		clone.ChainWallets[tag] = cw
	}
	clone.ExternalWallets = append([]string(nil), w.ExternalWallets...)
	if w.LastLogin != nil {
		last := *w.LastLogin
		clone.LastLogin = &last
	}

	return &clone
}
