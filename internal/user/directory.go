// Package user は認証済みユーザーのインメモリレジストリを提供する。
package user

import (
	"sync"
	"time"

	"github.com/hitoshi/appman/internal/model"
)

// Directory はユーザーIDから委任アクセストークンと表示名への対応を所有する。
// 委任トークンの唯一の信頼できる保管場所であり、ハンドシェイク成功のたびに
// 更新される。全メソッドは複数goroutineから安全に呼び出せる。
type Directory struct {
	mu    sync.RWMutex
	users map[int64]model.User

	now func() time.Time
}

// NewDirectory はDirectoryを生成する。
func NewDirectory() *Directory {
	return &Directory{
		users: make(map[int64]model.User),
		now:   time.Now,
	}
}

// Upsert はユーザーを登録または更新する（冪等）。
// 再認証時は委任トークンを上書きし、表示名も最新の値に更新する。
func (d *Directory) Upsert(id int64, login, accessToken string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.users[id] = model.User{
		ID:          id,
		Login:       login,
		AccessToken: accessToken,
		UpdatedAt:   d.now(),
	}
}

// Get は指定IDのユーザーを返す。見つからない場合は (zero, false) を返す。
func (d *Directory) Get(id int64) (model.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	return u, ok
}
