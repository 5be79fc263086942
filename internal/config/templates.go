package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# fno-chain configuration

[gateway]
# Quote gateway: "angelone", "kite" or "paper"
provider = "angelone"
base_url = "https://apiconnect.angelone.in"
http_timeout = "30s"

[fetcher]
# Tokens per quote request
batch_size = 4
# Minimum gap between two quote submissions (process-wide)
pacing = "250ms"
# Attempts per batch before its tokens are marked failed
max_attempts = 4
base_delay = "1s"
max_delay = "8s"
backoff_factor = 2.0
attempt_timeout = "10s"
# Hard ceiling for one chain request
request_timeout = "60s"

[chain]
# Strikes below and at-or-above the ATM anchor
strikes_each_side = 8
risk_free_rate = 0.0525
# Relative distance under which two strikes count as equally close to spot
atm_tie_tolerance = 1e-9

[session]
renew_ahead = "5m"
login_timeout = "20s"
# Keep the session token in an encrypted file across restarts
cache_enabled = false

[instruments]
refresh_interval = "24h"
max_age = "20h"

[server]
addr = ":8080"
mode = "release"

[logging]
level = "info"
file = true
`

const credentialsTemplate = `# fno-chain credentials
# WARNING: Keep this file secure! Do not commit to version control.

# Passphrase for the encrypted session cache
passphrase = ""

[angelone]
api_key = ""
client_code = ""
password = ""
totp_secret = ""

[kite]
api_key = ""
api_secret = ""
user_id = ""
request_token = ""
`

func writeTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}
