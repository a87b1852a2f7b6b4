package domain

// User - минимальная проекция пользователя, нужная чату.
// Профили и учетные данные живут в основном бэкенде.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}
