package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"

	"github.com/Leganyst/salon-crm/internal/model"
)

func readAll(b []byte) (*excelize.File, error) {
	return excelize.OpenReader(bytes.NewReader(b))
}

func TestClientsXLSX(t *testing.T) {
	bday := datatypes.Date(time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC))
	data, err := ClientsXLSX([]model.Client{{
		ID:        uuid.New(),
		Name:      "Анна Иванова",
		Phone:     "79990001122",
		Birthday:  &bday,
		Tags:      pq.StringArray{"vip", "окрашивание"},
		Source:    model.ChannelTelegram,
		Status:    model.ClientStatusActive,
		CreatedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}}, time.UTC)
	require.NoError(t, err)

	f, err := readAll(data)
	require.NoError(t, err)
	rows, err := f.GetRows(clientsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, clientHeaders, rows[0])
	assert.Equal(t, "Анна Иванова", rows[1][0])
	assert.Equal(t, "17.05.1990", rows[1][3])
	assert.Equal(t, "vip, окрашивание", rows[1][4])
	assert.Equal(t, "01.01.2025 09:00", rows[1][8])
}

func TestBookingsXLSX(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	start := time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)
	data, err := BookingsXLSX([]model.Booking{{
		StartsAt: start,
		EndsAt:   start.Add(time.Hour),
		Status:   model.BookingStatusConfirmed,
		Price:    decimal.RequireFromString("2500.50"),
		Source:   model.ChannelAdmin,
		Client:   &model.Client{Name: "Ольга", Phone: "79991112233"},
		Employee: &model.Employee{DisplayName: "Мария"},
		Service:  &model.Service{Name: "Стрижка"},
	}}, msk)
	require.NoError(t, err)

	f, err := readAll(data)
	require.NoError(t, err)
	rows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"10.01.2025", "10:00", "11:00", "Ольга", "79991112233", "Мария", "Стрижка", "confirmed", "2500.5", "admin"}, rows[1])
}

func buildImportFile(t *testing.T, rows [][]string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, f.SetCellValue("Sheet1", cell, v))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseClientsXLSX(t *testing.T) {
	buf := buildImportFile(t, [][]string{
		{"Имя", "Телефон", "E-mail", "Дата рождения", "Теги", "Заметки"},
		{"Анна", "+7 (999) 000-11-22", "", "17.05.1990", "vip, новая", ""},
		{"", "79990000000", "", "", "", ""},
		{"Ольга", "", "", "", "", ""},
		{"Вера", "", "not-an-email", "", "", ""},
		{"Ирина", "79995556677", "irina@mail.ru", "1990-13-01", "", ""},
		{"Мария", "", "maria@mail.ru", "1985-02-03", "", "аллергия"},
	})

	rows, errs, err := ParseClientsXLSX(buf)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "Анна", rows[0].Name)
	assert.Equal(t, []string{"vip", "новая"}, rows[0].Tags)
	require.NotNil(t, rows[0].Birthday)
	assert.Equal(t, time.May, rows[0].Birthday.Month())
	assert.Equal(t, 7, rows[1].Row)
	assert.Equal(t, "аллергия", rows[1].Notes)

	require.Len(t, errs, 4)
	assert.Equal(t, ImportError{Row: 3, Field: "name", Message: "name is required"}, errs[0])
	assert.Equal(t, "phone", errs[1].Field)
	assert.Equal(t, "email", errs[2].Field)
	assert.Equal(t, "birthday", errs[3].Field)
}

func TestParseClientsXLSX_NotAnXLSX(t *testing.T) {
	_, _, err := ParseClientsXLSX(bytes.NewReader([]byte("name,phone")))
	assert.Error(t, err)
}

func TestLoyaltyQR(t *testing.T) {
	png, err := LoyaltyQR("https://t.me/salon_bot?start=card_123")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	_, err = LoyaltyQR("")
	assert.Error(t, err)
}
