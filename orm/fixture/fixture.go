// Package fixture 把 YAML 数据集写入存储，供测试与示例在已知状态上运行。
//
//	tables:
//	  - table: store
//	    rows:
//	      - {id: 1, nick_name: B&N Desert Ridge}
//
// 表按出现顺序插入、按逆序清空；形如日期的字符串按 UTC 时间写入。
package fixture

import (
	"context"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"folio/errors"
	"folio/orm/storage"
)

// Table 一张表的行，列名到值
type Table struct {
	Name string           `yaml:"table"`
	Rows []map[string]any `yaml:"rows"`
}

// Dataset 有序的表集合
type Dataset struct {
	Tables []Table `yaml:"tables"`
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse 解析 YAML 数据集
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "parse dataset")
	}
	for i, t := range ds.Tables {
		if t.Name == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "dataset table #%d has no name", i+1)
		}
		for _, row := range t.Rows {
			for col, v := range row {
				row[col] = normalize(v)
			}
		}
	}
	return &ds, nil
}

// Load 从文件系统（如 embed.FS）读取数据集
func Load(fsys fs.FS, name string) (*Dataset, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "read dataset "+name)
	}
	return Parse(data)
}

func normalize(v any) any {
	s, ok := v.(string)
	if !ok || len(s) < len("2006-01-02") {
		return v
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return v
}

// Rows 数据集的总行数
func (d *Dataset) Rows() int {
	n := 0
	for _, t := range d.Tables {
		n += len(t.Rows)
	}
	return n
}

// Insert 按表顺序插入全部行
func (d *Dataset) Insert(ctx context.Context, exec storage.Executor) error {
	for _, t := range d.Tables {
		for _, row := range t.Rows {
			if _, err := exec.ExecuteWrite(ctx, storage.WriteRequest{Table: t.Name, Op: storage.OpInsert, Values: row}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clean 按逆序清空数据集涉及的表（重复出现的表只清一次）
func (d *Dataset) Clean(ctx context.Context, exec storage.Executor) error {
	seen := make(map[string]bool, len(d.Tables))
	for i := len(d.Tables) - 1; i >= 0; i-- {
		name := d.Tables[i].Name
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := exec.ExecuteWrite(ctx, storage.WriteRequest{Table: name, Op: storage.OpDelete}); err != nil {
			return err
		}
	}
	return nil
}

// CleanInsert 在一个事务中先清空再插入
func (d *Dataset) CleanInsert(ctx context.Context, store storage.Storage) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := d.Clean(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := d.Insert(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
