package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuxilozano/bot-binance/internal/logger"
)

// 中文说明：
// 持仓状态的落盘存储：单个 JSON 文件 + 进程级互斥锁。
// 锁只覆盖单次 Load/Save，不覆盖“读-决策-写”全程，这是有意的取舍，
// 入口信号侧靠 buyLock/isOpen 守卫兜底。
// Load 永不把损坏文件当致命错误：读不出来就当没有持仓。

// Store 持仓记录的读写能力。
type Store interface {
	Load() Position
	Save(Position) error
}

// FileStore 基于单文件 JSON 的 Store 实现。
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore 创建文件存储，目录不存在时自动创建。
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileStore{path: path}, nil
}

// Load 读取持仓记录。文件缺失、JSON 损坏、半写入都返回默认的未开仓记录，
// 缺字段按零值解释（向前兼容）。
func (s *FileStore) Load() Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("读取状态文件失败，按未开仓处理: %v", err)
		}
		return Position{}
	}
	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Warnf("状态文件损坏，按未开仓处理: %v", err)
		return Position{}
	}
	return p
}

// Save 全量写入持仓记录：先写临时文件再原子替换，崩溃不会留下半条记录。
func (s *FileStore) Save(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
