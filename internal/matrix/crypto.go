// ABOUTME: Optional end-to-end encryption for the helpdesk bot's Matrix session
// ABOUTME: SQLite-backed cryptohelper keyed per bot user, reset on device id mismatch

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// cryptoManager owns the bot's key store.
type cryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// setupCrypto attaches a cryptohelper to client. Without a recovery key the
// device works but is not cross-signed.
func setupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*cryptoManager, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := filepath.Join(dataDir, fmt.Sprintf("helpdesk-crypto-%s.db", slugify(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	helper, err := initCryptoHelper(ctx, client, deriveStoreKey(userID), dbPath, logger)
	if err != nil {
		return nil, err
	}
	client.Crypto = helper

	cm := &cryptoManager{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption enabled without cross-signing")
		return cm, nil
	}

	machine := helper.Machine()
	if machine == nil {
		logger.Warn("crypto machine not initialized, skipping recovery key")
		return cm, nil
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed", "error", err)
	} else {
		logger.Info("device verified with recovery key")
	}
	return cm, nil
}

func (cm *cryptoManager) Close() error {
	if cm == nil || cm.helper == nil {
		return nil
	}
	return cm.helper.Close()
}

// slugify turns a user id into a file name fragment.
// Example: @helpdesk:example.org -> helpdesk_example.org
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("coven-helpdesk-crypto:" + userID))
	return h[:]
}

// initCryptoHelper resets the store first when it belongs to another device;
// a fresh login gets a new device id and the old keys are useless.
func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	if stale, err := storedDeviceMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check stored device id", "error", err)
	} else if stale {
		logger.Warn("device id changed, resetting crypto database")
		if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing old crypto database: %w", err)
		}
		_ = os.Remove(dbPath + "-wal")
		_ = os.Remove(dbPath + "-shm")
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

// storedDeviceMismatch reports whether dbPath holds keys for a device other
// than deviceID.
func storedDeviceMismatch(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}
