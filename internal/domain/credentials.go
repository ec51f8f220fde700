package domain

import "time"

// DeviceCode — одноразовая заявка device-flow логина.
// ApprovedAt == nil означает «показан пользователю, но ещё не подтверждён».
type DeviceCode struct {
	DeviceCode string     `json:"device_code"`
	UserCode   string     `json:"user_code"` // Человекочитаемый, вида "XXXX-XXXX"
	UserID     string     `json:"user_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// Approved сообщает, можно ли обменять код на access-токен.
func (d *DeviceCode) Approved() bool {
	return d.ApprovedAt != nil
}

// AccessToken — bearer-учётка пользователя. Без refresh-токена:
// истёк — проходи device-flow заново.
type AccessToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionToken жёстко скоупится на одну сессию. Им нельзя ни листать чужие
// сессии, ни ходить в org-wide операции реестра.
type SessionToken struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeviceAuthStart — ответ на старт device-flow.
type DeviceAuthStart struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"` // Секунды до истечения кода
	Interval                int64  `json:"interval"`   // Рекомендуемый интервал поллинга
}

// TokenResponse — результат обмена device code на access-токен
// плюс снапшот идентичности владельца.
type TokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64      `json:"expires_in"`
	ExpiresAt   time.Time  `json:"expires_at"`
	User        *User      `json:"user"`
	Org         *Org       `json:"org"`
	Workspace   *Workspace `json:"workspace"`
}
