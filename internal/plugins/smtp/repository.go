package smtp

import (
	"context"
	"database/sql"
	"fmt"
)

// SettingsRepository reads and writes the singleton smtp_settings row (id=1).
type SettingsRepository interface {
	Get(ctx context.Context) (*settingsRow, error)
	Save(ctx context.Context, row *settingsRow) error
}

type settingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a MariaDB-backed settings repository.
func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// Get returns the settings row. A missing row (fresh database without the
// seed) reads as empty, disabled settings.
func (r *settingsRepository) Get(ctx context.Context) (*settingsRow, error) {
	row := &settingsRow{}
	err := r.db.QueryRowContext(ctx,
		`SELECT host, port, username, password_encrypted, from_address,
		        from_name, encryption, enabled, updated_at
		 FROM smtp_settings WHERE id = 1`,
	).Scan(
		&row.Host, &row.Port, &row.Username, &row.PasswordEncrypted,
		&row.FromAddress, &row.FromName, &row.Encryption, &row.Enabled,
		&row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return &settingsRow{Port: defaultPort, FromName: defaultFromName, Encryption: EncryptionStartTLS}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying smtp settings: %w", err)
	}
	return row, nil
}

// Save writes the singleton row.
func (r *settingsRepository) Save(ctx context.Context, row *settingsRow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO smtp_settings (id, host, port, username, password_encrypted,
		                            from_address, from_name, encryption, enabled)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		     host = VALUES(host),
		     port = VALUES(port),
		     username = VALUES(username),
		     password_encrypted = VALUES(password_encrypted),
		     from_address = VALUES(from_address),
		     from_name = VALUES(from_name),
		     encryption = VALUES(encryption),
		     enabled = VALUES(enabled)`,
		row.Host, row.Port, row.Username, row.PasswordEncrypted,
		row.FromAddress, row.FromName, row.Encryption, row.Enabled,
	)
	if err != nil {
		return fmt.Errorf("saving smtp settings: %w", err)
	}
	return nil
}
