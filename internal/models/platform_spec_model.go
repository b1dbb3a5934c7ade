package models

import (
	"encoding/json"
	"time"
)

// EncryptedCredentials is an AES-GCM blob. The tag is stored separately so a
// truncated or tampered column fails authentication instead of decrypting.
type EncryptedCredentials struct {
	Ciphertext string `db:"ciphertext" json:"-"`
	IV         string `db:"iv" json:"-"`
	AuthTag    string `db:"auth_tag" json:"-"`
}

type PlatformPublishSpec struct {
	ID          int64                `db:"id" json:"id"`
	PostID      string               `db:"post_id" json:"post_id"`
	Platform    string               `db:"platform" json:"platform"`
	Credentials EncryptedCredentials `json:"-"`
	Targeting   json.RawMessage      `db:"targeting" json:"targeting,omitempty"`
	Options     json.RawMessage      `db:"options" json:"options,omitempty"`
	CreatedAt   time.Time            `db:"created_at" json:"created_at"`
}
