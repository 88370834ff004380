package vault

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	positionPrefix  = []byte("vault/position/")
	processedPrefix = []byte("vault/processed/")
	poolPrefix      = []byte("vault/pool/")
	registryKey     = []byte("vault/registry")
	nonceKey        = []byte("vault/nonce")
)

func positionKey(chain string, user common.Address) []byte {
	tag := strings.TrimSpace(chain)
	buf := make([]byte, 0, len(positionPrefix)+len(tag)+1+common.AddressLength*2)
	buf = append(buf, positionPrefix...)
	buf = append(buf, tag...)
	buf = append(buf, '/')
	buf = append(buf, []byte(hex.EncodeToString(user.Bytes()))...)
	return buf
}

func processedKey(id [32]byte) []byte {
	buf := make([]byte, 0, len(processedPrefix)+len(id)*2)
	buf = append(buf, processedPrefix...)
	buf = append(buf, []byte(hex.EncodeToString(id[:]))...)
	return buf
}

func poolKey(chain string) []byte {
	tag := strings.TrimSpace(chain)
	buf := make([]byte, 0, len(poolPrefix)+len(tag))
	buf = append(buf, poolPrefix...)
	buf = append(buf, tag...)
	return buf
}
