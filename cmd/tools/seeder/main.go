package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/alexedwards/argon2id"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/lapak-dev/backend-lapak/internal/catalog"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedUsers(db)
	seedProducts(db)

	log.Println("Seeding completed successfully!")
}

func seedUsers(db *sql.DB) {
	users := []struct {
		Name  string
		Email string
		Role  string
	}{
		{"Admin Lapak", "admin@lapak.dev", "admin"},
		{"Budi Santoso", "budi@example.com", "customer"},
		{"Siti Aminah", "siti@example.com", "customer"},
		{"Dewi Lestari", "dewi@example.com", "customer"},
		{"Eko Kurniawan", "eko@example.com", "customer"},
		{"Rina Maulida", "rina@example.com", "customer"},
	}

	log.Println("Seeding users...")
	// Every demo account shares the demo password.
	hash, err := argon2id.CreateHash("password123", argon2id.DefaultParams)
	if err != nil {
		log.Fatalf("Failed to hash seed password: %v", err)
	}
	for _, u := range users {
		_, err := db.Exec(`
			INSERT INTO users (name, email, password_hash, role)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (email) DO NOTHING;
		`, u.Name, u.Email, hash, u.Role)
		if err != nil {
			log.Printf("Failed to seed user %s: %v", u.Email, err)
		}
	}
}

func seedProducts(db *sql.DB) {
	products := []struct {
		Name        string
		Description string
		Category    string
		Price       int64
		Stock       int32
	}{
		{"Laptop Pro 14", "14-inch workstation, 32 GB RAM, 1 TB SSD", "Electronics", 25000000, 40},
		{"Smartphone Nexa 5G", "6.5-inch AMOLED, 256 GB storage", "Electronics", 8500000, 120},
		{"Wireless Mouse", "Silent click, 18-month battery", "Electronics", 180000, 400},
		{"Noise Cancelling Headphones", "Over-ear, 30-hour battery", "Electronics", 4200000, 80},
		{"Monitor 27 Inch 4K", "IPS panel, 144 Hz refresh", "Electronics", 6000000, 35},
		{"Cordless Vacuum Cleaner", "Stick vacuum with HEPA filter", "Home Appliances", 3500000, 45},
		{"Digital Rice Cooker", "2 litre, 8 cooking modes", "Home Appliances", 850000, 200},
		{"Multifunction Blender", "1.5 litre glass jar, 6 speeds", "Home Appliances", 600000, 90},
		{"Laut Bercerita", "Novel by Leila S. Chudori", "Books", 99000, 300},
		{"Buku Masak Nusantara", "120 traditional recipes", "Books", 150000, 120},
		{"Clean Architecture", "Robert C. Martin", "Books", 350000, 60},
		{"Kaos Polos Hitam", "Plain black tee, combed cotton", "Clothing", 100000, 500},
		{"Kemeja Batik Parang", "Long sleeve batik shirt", "Clothing", 350000, 140},
		{"Jaket Hujan Ringan", "Packable rain jacket", "Clothing", 275000, 90},
	}

	log.Println("Seeding products...")
	var g errgroup.Group
	g.SetLimit(4)
	for _, p := range products {
		g.Go(func() error {
			_, err := db.Exec(`
				INSERT INTO products (name, slug, description, category, price, stock)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (slug) DO UPDATE SET
					description = EXCLUDED.description,
					category    = EXCLUDED.category,
					price       = EXCLUDED.price,
					stock       = EXCLUDED.stock;
			`, p.Name, catalog.Slugify(p.Name), p.Description, p.Category, p.Price, p.Stock)
			if err != nil {
				log.Printf("Failed to seed product %s: %v", p.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
