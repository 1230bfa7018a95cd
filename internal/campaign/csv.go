package campaign

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"certforge/internal/render"
)

// ReadRecipientRows 解析 CSV（首行为表头），按映射投影为接收人输入。
// 空行跳过，缺姓名/邮箱的行静默丢弃。
func ReadRecipientRows(r io.Reader, mapping Mapping) ([]render.RecipientInput, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, header := range headers {
		headers[i] = strings.TrimSpace(header)
	}

	var recipients []render.RecipientInput
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if rowIsEmpty(record) {
			continue
		}

		row := combineRow(headers, record)
		if input := mapping.MapRow(row); input != nil {
			recipients = append(recipients, *input)
		}
	}

	return recipients, nil
}

// CountDataRows 统计 CSV 中的非空数据行数（不含表头）。
func CountDataRows(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("read csv header: %w", err)
	}

	count := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read csv row: %w", err)
		}
		if !rowIsEmpty(record) {
			count++
		}
	}
	return count, nil
}

func combineRow(headers, values []string) map[string]string {
	row := make(map[string]string, len(headers))
	for index, header := range headers {
		if header == "" {
			continue
		}
		value := ""
		if index < len(values) {
			value = strings.TrimSpace(values[index])
		}
		row[header] = value
	}
	return row
}

func rowIsEmpty(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
