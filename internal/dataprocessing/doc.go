// Package dataprocessing turns raw aggregate bars into processed rows with a
// fixed column layout, and summarizes processed rows per ticker.
//
// # Architecture
//
// The package is organized into two components:
//
// 1. Preprocessor: validates, orders, de-duplicates and fills bars, then
// derives daily returns and flags outliers
// 2. Summarizer: reduces processed rows to a per-ticker summary
//
// # Usage
//
//	p := dataprocessing.NewPreprocessor(logger, dataprocessing.DefaultOptions())
//	rows, stats, err := p.Process(ctx, "AAPL", bars)
//	if err != nil {
//	    return err // PROCESSING error naming the record index and field
//	}
//
// # Data Flow
//
//	[]domain.Bar → validate → sort/dedupe → ffill/bfill → daily_return → outliers → []domain.ProcessedRow
//
// # Error Handling
//
// A bar with a missing or impossible required field fails the whole batch
// with a PROCESSING error; nothing is silently dropped or zero-filled.
package dataprocessing
