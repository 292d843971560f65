package domain

import "time"

// User — запись каталога пользователей (внешний коллаборатор ядра,
// нужен только для имён и инициализации счёта).
type User struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Key       string    `db:"key"`
	CreatedAt time.Time `db:"created_at"`
}
