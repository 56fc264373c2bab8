package keybroker

import (
	"github.com/allisson/fieldcrypt/internal/errors"
)

// KMSOp is the direction of one KMS round trip.
type KMSOp int

const (
	// OpDecrypt unwraps encrypted key material fetched from the key vault.
	OpDecrypt KMSOp = iota
	// OpEncrypt wraps freshly generated key material for a new data key.
	OpEncrypt
)

// KMSCtx is one outstanding KMS round trip. The core never talks to a KMS
// itself: the embedding application reads Message, performs the provider call
// described by MasterKey, and feeds the response back.
type KMSCtx struct {
	op        KMSOp
	masterKey MasterKey
	message   []byte
	result    []byte
	fed       bool
	ref       *keyRef
}

// NewEncryptCtx creates a standalone wrap round trip, used by the data-key
// context.
func NewEncryptCtx(mk MasterKey, plaintext []byte) *KMSCtx {
	msg := make([]byte, len(plaintext))
	copy(msg, plaintext)
	return &KMSCtx{op: OpEncrypt, masterKey: mk, message: msg}
}

// Operation reports whether the application must encrypt or decrypt Message.
func (k *KMSCtx) Operation() KMSOp {
	return k.op
}

// MasterKey describes the provider-side key to use for the round trip.
func (k *KMSCtx) MasterKey() MasterKey {
	return k.masterKey
}

// Message is the payload to hand to the KMS provider.
func (k *KMSCtx) Message() []byte {
	return k.message
}

// Feed supplies the KMS response. It may be called exactly once.
func (k *KMSCtx) Feed(material []byte) error {
	if k.fed {
		return errors.Wrap(errors.ErrKeyBroker, "KMS context already fed")
	}
	if len(material) == 0 {
		return errors.Wrap(errors.ErrKeyBroker, "empty KMS response")
	}
	k.result = make([]byte, len(material))
	copy(k.result, material)
	k.fed = true
	return nil
}

// Result returns the fed response, when present.
func (k *KMSCtx) Result() ([]byte, bool) {
	if !k.fed {
		return nil, false
	}
	return k.result, true
}
