// Seeder populates a development database with articles, promotions, and
// voucher codes for manual testing against the API.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(ctx)

	seedArticles(ctx, conn)
	seedPromotions(ctx, conn)

	log.Println("Seeding completed successfully!")
}

func seedArticles(ctx context.Context, conn *pgx.Conn) {
	articles := []struct {
		Name        string
		OrderNumber string
		PriceGross  int64
		InStock     int32
		LastStock   bool
	}{
		{"Stainless Water Bottle", "SW10001", 1999, 120, false},
		{"Canvas Tote Bag", "SW10002", 1499, 45, false},
		{"Espresso Cup Set", "SW10003", 2999, 8, true},
		{"Travel Mug", "SW10004", 2499, 3, true},
		{"Keychain Light", "SW10005", 499, 500, false},
	}

	log.Println("Seeding articles...")
	for _, a := range articles {
		_, err := conn.Exec(ctx, `
			INSERT INTO articles (name, order_number, price_gross, instock, laststock)
			SELECT $1, $2, $3, $4, $5
			WHERE NOT EXISTS (SELECT 1 FROM articles WHERE order_number = $2)`,
			a.Name, a.OrderNumber, a.PriceGross, a.InStock, a.LastStock)
		if err != nil {
			log.Fatalf("Failed to seed article %s: %v", a.OrderNumber, err)
		}
	}
}

func seedPromotions(ctx context.Context, conn *pgx.Conn) {
	log.Println("Seeding promotions and vouchers...")

	var sharedVoucherID int64
	err := conn.QueryRow(ctx, `
		INSERT INTO vouchers (code, mode) VALUES ('WELCOME10', 0)
		ON CONFLICT DO NOTHING
		RETURNING id`).Scan(&sharedVoucherID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = conn.QueryRow(ctx, `SELECT id FROM vouchers WHERE code = 'WELCOME10'`).Scan(&sharedVoucherID)
	}
	if err != nil {
		log.Fatalf("Failed to seed shared voucher: %v", err)
	}

	var personalVoucherID int64
	err = conn.QueryRow(ctx, `
		INSERT INTO vouchers (code, mode) VALUES ('PERSONAL', 1)
		ON CONFLICT DO NOTHING
		RETURNING id`).Scan(&personalVoucherID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = conn.QueryRow(ctx, `SELECT id FROM vouchers WHERE code = 'PERSONAL'`).Scan(&personalVoucherID)
	}
	if err != nil {
		log.Fatalf("Failed to seed personal voucher: %v", err)
	}

	for _, code := range []string{"PERS-AAAA", "PERS-BBBB", "PERS-CCCC"} {
		if _, err := conn.Exec(ctx, `
			INSERT INTO voucher_codes (voucher_id, code)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, personalVoucherID, code); err != nil {
			log.Fatalf("Failed to seed voucher code %s: %v", code, err)
		}
	}

	promotions := []struct {
		Name      string
		Number    string
		VoucherID *int64
	}{
		{"Welcome Discount", "prom-welcome", &sharedVoucherID},
		{"Personal Reward", "prom-personal", &personalVoucherID},
		{"Free Gift", "prom-gift", nil},
	}
	for _, p := range promotions {
		var promotionID int64
		err := conn.QueryRow(ctx, `
			INSERT INTO promotions (name, number, voucher_id)
			SELECT $1, $2, $3
			WHERE NOT EXISTS (SELECT 1 FROM promotions WHERE number = $2)
			RETURNING id`, p.Name, p.Number, p.VoucherID).Scan(&promotionID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			log.Fatalf("Failed to seed promotion %s: %v", p.Number, err)
		}
		if p.Number == "prom-gift" {
			if _, err := conn.Exec(ctx, `
				INSERT INTO promotion_free_goods (promotion_id, article_id)
				SELECT $1, id FROM articles WHERE order_number = 'SW10005'
				ON CONFLICT DO NOTHING`, promotionID); err != nil {
				log.Fatalf("Failed to seed free goods: %v", err)
			}
		}
	}
}
