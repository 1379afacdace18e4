package export

import (
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Leganyst/salon-crm/internal/model"
)

const (
	clientsSheet  = "Клиенты"
	bookingsSheet = "Записи"
	dateLayout    = "02.01.2006"
)

var clientHeaders = []string{"Имя", "Телефон", "E-mail", "Дата рождения", "Теги", "Заметки", "Источник", "Статус", "Создан"}

var bookingHeaders = []string{"Дата", "Начало", "Конец", "Клиент", "Телефон", "Мастер", "Услуга", "Статус", "Цена", "Источник"}

// ClientsXLSX выгружает клиентов в книгу с одним листом.
func ClientsXLSX(clients []model.Client, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows := make([][]any, 0, len(clients))
	for _, c := range clients {
		birthday := ""
		if c.Birthday != nil {
			birthday = time.Time(*c.Birthday).Format(dateLayout)
		}
		rows = append(rows, []any{
			c.Name,
			c.Phone,
			c.Email,
			birthday,
			strings.Join(c.Tags, ", "),
			c.Notes,
			string(c.Source),
			string(c.Status),
			c.CreatedAt.In(loc).Format(dateLayout + " 15:04"),
		})
	}
	return writeSheet(clientsSheet, clientHeaders, rows)
}

// BookingsXLSX ожидает записи с подгруженными Client, Employee и Service.
func BookingsXLSX(bookings []model.Booking, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows := make([][]any, 0, len(bookings))
	for _, b := range bookings {
		var clientName, phone, employee, service string
		if b.Client != nil {
			clientName, phone = b.Client.Name, b.Client.Phone
		}
		if b.Employee != nil {
			employee = b.Employee.DisplayName
		}
		if b.Service != nil {
			service = b.Service.Name
		}
		price, _ := b.Price.Float64()
		start, end := b.StartsAt.In(loc), b.EndsAt.In(loc)
		rows = append(rows, []any{
			start.Format(dateLayout),
			start.Format("15:04"),
			end.Format("15:04"),
			clientName,
			phone,
			employee,
			service,
			string(b.Status),
			price,
			string(b.Source),
		})
	}
	return writeSheet(bookingsSheet, bookingHeaders, rows)
}

func writeSheet(sheet string, headers []string, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	for r, row := range rows {
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheet, "A", lastCol, 18)
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportError — ошибка в конкретной строке файла импорта (нумерация как в Excel).
type ImportError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ClientRow — разобранная строка импорта.
type ClientRow struct {
	Row      int
	Name     string
	Phone    string
	Email    string
	Birthday *time.Time
	Tags     []string
	Notes    string
}

// ParseClientsXLSX читает первый лист: Имя, Телефон, E-mail, Дата рождения, Теги, Заметки.
// Первая строка — заголовок. Битые строки попадают в ошибки, остальные возвращаются.
func ParseClientsXLSX(r io.Reader) ([]ClientRow, []ImportError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("xlsx has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}

	var (
		out  []ClientRow
		errs []ImportError
	)
	for idx, rec := range records {
		if idx == 0 {
			continue
		}
		rowNum := idx + 1
		col := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		if strings.Join(rec, "") == "" {
			continue
		}

		row := ClientRow{Row: rowNum, Name: col(0), Phone: col(1), Email: col(2), Notes: col(5)}
		if row.Name == "" {
			errs = append(errs, ImportError{Row: rowNum, Field: "name", Message: "name is required"})
			continue
		}
		if row.Phone == "" && row.Email == "" {
			errs = append(errs, ImportError{Row: rowNum, Field: "phone", Message: "phone or email is required"})
			continue
		}
		if row.Email != "" {
			if _, err := mail.ParseAddress(row.Email); err != nil {
				errs = append(errs, ImportError{Row: rowNum, Field: "email", Message: "invalid email"})
				continue
			}
		}
		if b := col(3); b != "" {
			t, err := parseDate(b)
			if err != nil {
				errs = append(errs, ImportError{Row: rowNum, Field: "birthday", Message: "invalid date, want DD.MM.YYYY"})
				continue
			}
			row.Birthday = &t
		}
		for _, tag := range strings.Split(col(4), ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				row.Tags = append(row.Tags, tag)
			}
		}
		out = append(out, row)
	}
	return out, errs, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{dateLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
