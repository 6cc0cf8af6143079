package keystore

const (
	keystoreVersion = 3
	cipherName      = "aes-128-ctr"
	kdfName         = "scrypt"

	// systemKeystoreID is the id of the single keystore row.
	systemKeystoreID = "00000000-0000-0000-0000-000000000001"
)

// Keystore is the persisted, encrypted master mnemonic.
type Keystore struct {
	ID                  string `boil:"id"`
	KeystoreData        string `boil:"keystore_data"`
	Version             int    `boil:"version"`
	Cipher              string `boil:"cipher"`
	KDF                 string `boil:"kdf"`
	VerificationAddress *string `boil:"verification_address"`
}

// EncryptedJSON is the Web3 Secret Storage (v3) document the mnemonic is kept in.
type EncryptedJSON struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Crypto  struct {
		Ciphertext   string `json:"ciphertext"`
		CipherParams struct {
			IV string `json:"iv"`
		} `json:"cipherparams"`
		Cipher    string `json:"cipher"`
		KDF       string `json:"kdf"`
		KDFParams struct {
			DKLen int    `json:"dklen"`
			Salt  string `json:"salt"`
			N     int    `json:"n"`
			R     int    `json:"r"`
			P     int    `json:"p"`
		} `json:"kdfparams"`
		MAC string `json:"mac"`
	} `json:"crypto"`
}

// ScryptParams are the scrypt KDF cost parameters.
type ScryptParams struct {
	DKLen int
	N     int
	R     int
	P     int
}

// DefaultScryptParams returns the standard v3 parameters (N=2^18, r=8, p=1).
func DefaultScryptParams() ScryptParams {
	return ScryptParams{
		DKLen: 32, //nolint:mnd
		N:     262144,
		R:     8, //nolint:mnd
		P:     1,
	}
}

// LightScryptParams trade strength for speed and are meant for tests and local tooling.
func LightScryptParams() ScryptParams {
	return ScryptParams{
		DKLen: 32, //nolint:mnd
		N:     4096,
		R:     8, //nolint:mnd
		P:     1,
	}
}
