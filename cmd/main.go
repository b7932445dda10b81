package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kioskpay/storekit-server/history/memory"
	"github.com/kioskpay/storekit-server/product"
	"github.com/kioskpay/storekit-server/purchase"
	"github.com/kioskpay/storekit-server/store"
	storememory "github.com/kioskpay/storekit-server/store/memory"
)

func main() {
	_ = godotenv.Load()

	productID := os.Getenv("STOREKIT_PRODUCT_ID")
	if productID == "" {
		productID = "com.kioskpay.demo.coins"
	}
	userToken := os.Getenv("STOREKIT_USER_TOKEN")
	if userToken == "" {
		userToken = "demo-user"
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	simulated := storememory.NewInMemory()
	simulated.AddProduct(&product.Product{
		ID:       productID,
		Title:    "Demo Coins",
		Price:    decimal.RequireFromString("0.99"),
		Currency: "USD",
	})
	simulated.ScriptRestoreOutcomes(store.Restored(productID, "restored-txn-1"))

	coordinator := purchase.NewCoordinator(
		logger,
		simulated,
		simulated,
		simulated,
		simulated,
		product.NewCache(),
		memory.NewInMemory(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	purchased, err := coordinator.Purchase(ctx, productID, 1, userToken)
	if err != nil {
		logger.Fatal("Purchase failed", zap.Error(err))
	}
	logger.Info("Purchase complete", zap.String("product_id", purchased))

	report, err := coordinator.Restore(ctx)
	if err != nil {
		logger.Fatal("Restore failed", zap.Error(err))
	}
	logger.Info("Restore complete",
		zap.Strings("restored", report.Restored),
		zap.Int("failures", len(report.Failures)),
	)
}
