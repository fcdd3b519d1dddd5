package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

const degiroHeader = "Date,Time,Product,ISIN,Reference exchange,Venue,Quantity,Price,,Local value,,Value,,Exchange rate,AutoFX Fee,Transaction and/or third party fees,,Total,,Order ID\n"

func degiroCSV(rows ...string) string {
	return degiroHeader + strings.Join(rows, "\n") + "\n"
}

func TestImporter_Import(t *testing.T) {
	repo := newTestRepository(t)
	importer := NewImporter(repo, func(isin string) bool { return isin == "US82669G1040" }, zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	file := degiroCSV(
		`15-03-2024,09:05,SAAB AB CLASS B,SE0021921269,OMX,XSTO,10,"500,50",SEK,"-5005,00",SEK,"-436,17",EUR,"11,4751",,"-2,00",EUR,"-438,17",EUR,abc-1`,
		`16-03-2024,10:00,SAAB AB CLASS B,SE0021921269,OMX,XSTO,5,"510,00",SEK,"-2550,00",SEK,"-220,00",EUR,"11,5909",,"-1,00",EUR,"-221,00",EUR,abc-2`,
		`16-03-2024,11:00,SAAB AB CLASS B,SE0021921269,OMX,XSTO,1,"45,00",EUR,"-45,00",EUR,"-45,00",EUR,,,,EUR,"-45,00",EUR,abc-3`,
		`17-03-2024,12:00,SOME IGNORED FUND,US82669G1040,NDQ,XNAS,3,10,USD,-30,USD,-27,EUR,"1,1",,,EUR,-27,EUR,abc-4`,
		`,,,,,,,,,,,,,,,,,,,`,
		`18-03-2024,13:15,AIRBUS SE,NL0000235190,EPA,XPAR,-2,150.25,EUR,300.50,EUR,300.50,EUR,,,-4.90,EUR,295.60,EUR,abc-5`,
	)

	result, err := importer.Import(ctx, strings.NewReader(file))
	require.NoError(t, err)

	assert.NotEmpty(t, result.ImportID)
	assert.Equal(t, 4, result.NewTransactions)
	assert.Equal(t, 2, result.NewInstruments)
	assert.Equal(t, 1, result.Ignored)
	assert.Equal(t, 0, result.Duplicates)
	assert.Len(t, result.Touched, 2)

	saab, err := repo.GetInstrumentByISIN(ctx, "SE0021921269")
	require.NoError(t, err)
	assert.Equal(t, domain.CurrencySEK, saab.Currency)
	assert.Equal(t, "SAAB", saab.Symbol)
	assert.Equal(t, "SAAB AB CLASS B", saab.Name)
	assert.Equal(t, "OMX", saab.Exchange)

	txs, err := repo.ListTransactionsFor(ctx, saab.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	first := txs[0]
	assert.Equal(t, time.Date(2024, 3, 15, 9, 5, 0, 0, time.UTC), first.ExecutedAt)
	assert.Equal(t, int64(10), first.Quantity)
	assert.Equal(t, 500.5, first.Price)
	assert.Equal(t, -438.17, first.TotalEUR)
	require.NotNil(t, first.ExchangeRate)
	assert.Equal(t, 11.4751, *first.ExchangeRate)
	require.NotNil(t, first.FeesEUR)
	assert.Equal(t, -2.0, *first.FeesEUR)
	assert.Equal(t, "abc-1", first.OrderID)
	assert.Equal(t, "XSTO", first.Venue)
	assert.Equal(t, result.ImportID, first.ImportID)
	assert.Nil(t, txs[2].ExchangeRate)
	assert.Nil(t, txs[2].FeesEUR)

	_, err = repo.GetInstrumentByISIN(ctx, "US82669G1040")
	assert.ErrorIs(t, err, ErrInstrumentNotFound)

	// Re-importing the same file only finds duplicates
	again, err := importer.Import(ctx, strings.NewReader(file))
	require.NoError(t, err)
	assert.Equal(t, 0, again.NewTransactions)
	assert.Equal(t, 0, again.NewInstruments)
	assert.Equal(t, 4, again.Duplicates)
}

func TestImporter_MissingColumns(t *testing.T) {
	importer := NewImporter(newTestRepository(t), nil, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := importer.Import(context.Background(), strings.NewReader("Date,Time,Product,ISIN\n01-01-2024,10:00,X,Y\n"))

	var missing *MissingColumnsError
	require.True(t, errors.As(err, &missing))
	assert.Contains(t, missing.Missing, colQuantity)
	assert.Contains(t, missing.Missing, colTotalEUR)
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestImporter_MalformedRowIsFatal(t *testing.T) {
	repo := newTestRepository(t)
	importer := NewImporter(repo, nil, zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	file := degiroCSV(
		`15-03-2024,09:05,AIRBUS SE,NL0000235190,EPA,XPAR,1,100,EUR,-100,EUR,-100,EUR,,,,EUR,-100,EUR,o1`,
		`2024/03/16,09:05,AIRBUS SE,NL0000235190,EPA,XPAR,1,100,EUR,-100,EUR,-100,EUR,,,,EUR,-100,EUR,o2`,
	)

	_, err := importer.Import(ctx, strings.NewReader(file))

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 3, rowErr.Line)
	assert.Equal(t, colDate, rowErr.Column)
	assert.ErrorIs(t, err, ErrInvalidFile)

	// Nothing from the file was written
	all, err := repo.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImporter_FractionalQuantityRejected(t *testing.T) {
	importer := NewImporter(newTestRepository(t), nil, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := importer.Import(context.Background(), strings.NewReader(degiroCSV(
		`15-03-2024,09:05,AIRBUS SE,NL0000235190,EPA,XPAR,"1,5",100,EUR,-150,EUR,-150,EUR,,,,EUR,-150,EUR,o1`,
	)))

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, colQuantity, rowErr.Column)
}

func TestImporter_EmptyFile(t *testing.T) {
	importer := NewImporter(newTestRepository(t), nil, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := importer.Import(context.Background(), strings.NewReader(""))

	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1234.56", want: "1234.56"},
		{in: "1234,56", want: "1234.56"},
		{in: "1.234,56", want: "1234.56"},
		{in: "1,234.56", want: "1234.56"},
		{in: "-0,5", want: "-0.5"},
		{in: " 42 ", want: "42"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNumber(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestMapHeader_OrderIDInFollowingCell(t *testing.T) {
	cols, follows := mapHeader([]string{"\ufeffDate", "Price ", "", "Order ID", ""})

	assert.Equal(t, 0, cols[colDate])
	assert.Equal(t, 1, cols[colPrice])
	assert.Equal(t, 2, cols[colCurrency])
	assert.Equal(t, 3, cols[colOrderID])
	assert.Equal(t, 4, follows)
}

func TestNativeCurrencies(t *testing.T) {
	rows := []parsedRow{
		{isin: "A", currency: domain.CurrencyEUR},
		{isin: "A", currency: domain.CurrencySEK},
		{isin: "A", currency: domain.CurrencySEK},
		{isin: "B", currency: domain.CurrencyUSD},
		{isin: "B", currency: domain.CurrencyEUR},
	}

	got := nativeCurrencies(rows)

	assert.Equal(t, domain.CurrencySEK, got["A"])
	assert.Equal(t, domain.CurrencyUSD, got["B"])
}
