// Package validation 提供实体保存前校验使用的字段校验函数
package validation

import (
	"fmt"
	"strings"

	"folio/errors"
)

// IValidator 实体可实现该接口，会话在插入和更新前调用
type IValidator interface {
	Validate() error
}

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为空", fieldName))
	}
	return nil
}

// ValidateStringLength 验证字符串长度，max<=0 表示不限制上限
func ValidateStringLength(value, fieldName string, min, max int) error {
	length := len([]rune(value))
	if length < min {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s长度不能少于%d个字符（当前%d）", fieldName, min, length))
	}
	if max > 0 && length > max {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s长度不能超过%d个字符（当前%d）", fieldName, max, length))
	}
	return nil
}

// ValidateNonNegative 验证非负整数
func ValidateNonNegative(value int, fieldName string) error {
	if value < 0 {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为负数（当前%d）", fieldName, value))
	}
	return nil
}

// ValidateNonNegativeFloat 验证非负金额
func ValidateNonNegativeFloat(value float64, fieldName string) error {
	if value < 0 {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为负数（当前%.2f）", fieldName, value))
	}
	return nil
}

// ValidateEnum 验证枚举值
func ValidateEnum(value, fieldName string, validValues []string) error {
	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}
	return errors.NewError(errors.ErrCodeValidation,
		fmt.Sprintf("%s的值无效，必须是以下之一: %v", fieldName, validValues))
}

// ValidateISBN 校验 ISBN 格式：10 位或 13 位数字（ISBN-10 末位可为 X），允许连字符和空格
func ValidateISBN(isbn string) error {
	digits := normalizeISBN(isbn)
	if len(digits) != 10 && len(digits) != 13 {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("ISBN长度不正确: %q", isbn))
	}
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c >= '0' && c <= '9' {
			continue
		}
		if len(digits) == 10 && i == 9 && (c == 'X' || c == 'x') {
			continue
		}
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("ISBN包含非法字符: %q", isbn))
	}
	return nil
}

// ValidateISBNChecksum 在格式校验之上再校验校验位
func ValidateISBNChecksum(isbn string) error {
	if err := ValidateISBN(isbn); err != nil {
		return err
	}
	digits := normalizeISBN(isbn)
	ok := false
	if len(digits) == 10 {
		ok = isbn10Valid(digits)
	} else {
		ok = isbn13Valid(digits)
	}
	if !ok {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("ISBN校验位不正确: %q", isbn))
	}
	return nil
}

func normalizeISBN(isbn string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(isbn)
}

func isbn10Valid(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		c := s[i]
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case (c == 'X' || c == 'x') && i == 9:
			v = 10
		default:
			return false
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func isbn13Valid(s string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		v := int(c - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}

// Collector 收集多个字段错误，合并为一个 VALIDATION_ERROR
type Collector struct {
	problems []string
}

// Check 记录非 nil 错误
func (c *Collector) Check(err error) {
	if err == nil {
		return
	}
	if ae, ok := err.(errors.IError); ok {
		c.problems = append(c.problems, ae.Message())
		return
	}
	c.problems = append(c.problems, err.Error())
}

// Err 无错误时返回 nil
func (c *Collector) Err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return errors.NewError(errors.ErrCodeValidation, strings.Join(c.problems, "; ")).
		WithContext("problems", append([]string(nil), c.problems...))
}
