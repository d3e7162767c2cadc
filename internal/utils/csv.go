package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"volumebot/internal/domain"
)

func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"})

	for _, k := range klines {
		writer.Write([]string{
			k.OpenTime.Format(time.RFC3339),
			k.CloseTime.Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			strconv.FormatFloat(k.Open, 'f', -1, 64),
			strconv.FormatFloat(k.High, 'f', -1, 64),
			strconv.FormatFloat(k.Low, 'f', -1, 64),
			strconv.FormatFloat(k.Close, 'f', -1, 64),
			strconv.FormatFloat(k.Volume, 'f', -1, 64),
		})
	}
	return writer.Error()
}

// ReadKlinesFromCSV loads klines previously written by WriteKlinesToCSV.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv %s: %w", filename, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv %s contains no kline rows", filename)
	}

	klines := make([]*domain.Kline, 0, len(records)-1)
	for i, rec := range records[1:] { // Skip header
		if len(rec) != 9 {
			return nil, fmt.Errorf("csv %s row %d: expected 9 columns, got %d", filename, i+2, len(rec))
		}
		openTime, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("csv %s row %d: bad open_time: %w", filename, i+2, err)
		}
		closeTime, err := time.Parse(time.RFC3339, rec[1])
		if err != nil {
			return nil, fmt.Errorf("csv %s row %d: bad close_time: %w", filename, i+2, err)
		}
		open, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return nil, fmt.Errorf("csv %s row %d: bad open: %w", filename, i+2, err)
		}
		high, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return nil, fmt.Errorf("csv %s row %d: bad high: %w", filename, i+2, err)
		}
		low, err := strconv.ParseFloat(rec[6], 64)
		if err != nil {
			return nil, fmt.Errorf("csv %s row %d: bad low: %w", filename, i+2, err)
		}
		cls, err := strconv.ParseFloat(rec[7], 64)
		if err != nil {
			return nil, fmt.Errorf("csv %s row %d: bad close: %w", filename, i+2, err)
		}
		vol, err := strconv.ParseFloat(rec[8], 64)
		if err != nil {
			return nil, fmt.Errorf("csv %s row %d: bad volume: %w", filename, i+2, err)
		}

		klines = append(klines, &domain.Kline{
			OpenTime:  openTime,
			CloseTime: closeTime,
			Symbol:    rec[2],
			Interval:  rec[3],
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    vol,
			IsFinal:   true,
		})
	}
	return klines, nil
}
