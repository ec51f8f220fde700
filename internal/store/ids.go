package store

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Все идентификаторы ядра — непрозрачные строки с типовым префиксом
// ("org_", "ws_", "sess_", "dc_") и случайным суффиксом: коллизии практически
// исключены, а сам id самодокументируется.

// NewID генерирует идентификатор сущности: префикс + uuid без дефисов.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewToken генерирует bearer-креденшл. Для токенов используем crypto/rand
// на полные 256 бит: uuid v4 несёт только 122 бита и предсказуемый формат.
func NewToken(prefix string) string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand на поддерживаемых платформах не падает; если упал —
		// продолжать выпуск креденшлов нельзя.
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	return prefix + "_" + hex.EncodeToString(buf)
}

// userCodeAlphabet без визуально похожих символов (0/O, 1/I и т.д.),
// чтобы код можно было продиктовать голосом.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ23456789"

// NewUserCode генерирует человекочитаемый код вида "XXXX-XXXX" для device-flow.
func NewUserCode() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	out := make([]byte, 0, 9)
	for i, b := range buf {
		if i == 4 {
			out = append(out, '-')
		}
		out = append(out, userCodeAlphabet[int(b)%len(userCodeAlphabet)])
	}
	return string(out)
}
