package models

// EncryptedBlob is the AEAD-sealed identity payload. ContentID is assigned
// by the blob store.
type EncryptedBlob struct {
	ContentID  string `json:"contentId,omitempty"`
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}
