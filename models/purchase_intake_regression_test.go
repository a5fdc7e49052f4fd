package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/models"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"bitbucket.org/mmdatafocus/operations_backend/workflow"
	"github.com/shopspring/decimal"
)

func TestPurchaseIntakeUpdatesStockAndAverageCost(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)
	product, cheeseKg := seedCheese(t, ctx)

	// 2 kg at 59500 gross on an invoice: net 59500/1.19 = 50000, 2000 g in
	// base units, so the first average is 25/g.
	purchase, err := models.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:     product.supplierId,
		DocumentType:   models.DocumentTypeInvoice,
		DocumentNumber: "F-0001",
		PurchaseDate:   time.Now(),
		Items: []models.NewPurchaseItem{{
			ProductId:      product.id,
			PurchaseUnitId: cheeseKg,
			Quantity:       decimal.RequireFromString("2"),
			TotalCost:      decimal.RequireFromString("59500"),
		}},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if !purchase.TotalAmount.Equal(decimal.RequireFromString("59500")) {
		t.Fatalf("TotalAmount = %s, want 59500", purchase.TotalAmount)
	}

	got, err := models.GetProduct(ctx, product.id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !got.CurrentStock.Equal(decimal.RequireFromString("2000")) {
		t.Fatalf("CurrentStock = %s, want 2000", got.CurrentStock)
	}
	if !got.AverageCost.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("AverageCost = %s, want 25", got.AverageCost)
	}

	// Second purchase at a higher price blends:
	// (2000*25 + 30000) / (2000+1000) = 80000/3000
	_, err = models.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:     product.supplierId,
		DocumentType:   models.DocumentTypeReceipt,
		DocumentNumber: "B-0001",
		PurchaseDate:   time.Now(),
		Items: []models.NewPurchaseItem{{
			ProductId:      product.id,
			PurchaseUnitId: cheeseKg,
			Quantity:       decimal.RequireFromString("1"),
			TotalCost:      decimal.RequireFromString("30000"),
		}},
	})
	if err != nil {
		t.Fatalf("CreatePurchase (second): %v", err)
	}

	got, err = models.GetProduct(ctx, product.id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !got.CurrentStock.Equal(decimal.RequireFromString("3000")) {
		t.Fatalf("CurrentStock = %s, want 3000", got.CurrentStock)
	}
	wantAvg := decimal.RequireFromString("80000").Div(decimal.RequireFromString("3000"))
	if got.AverageCost.Sub(wantAvg).Abs().GreaterThan(decimal.RequireFromString("0.0001")) {
		t.Fatalf("AverageCost = %s, want ~%s", got.AverageCost, wantAvg)
	}

	// The intake must have enqueued stock-updated outbox rows in the same
	// transactions.
	db := config.GetDB()
	var outboxCount int64
	if err := db.Model(&models.EventRecord{}).
		Where("event_type = ?", models.EventTypeStockUpdated).
		Count(&outboxCount).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount < 2 {
		t.Fatalf("outbox rows = %d, want >= 2", outboxCount)
	}

	// Duplicate document numbers are rejected.
	_, err = models.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:     product.supplierId,
		DocumentType:   models.DocumentTypeInvoice,
		DocumentNumber: "F-0001",
		PurchaseDate:   time.Now(),
	})
	if err == nil {
		t.Fatal("duplicate (document_type, document_number) should be rejected")
	}
}

func TestConcurrentPurchasesSerializeOnProductRow(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)
	product, cheeseKg := seedCheese(t, ctx)

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := models.CreatePurchase(ctx, &models.NewPurchase{
				SupplierId:     product.supplierId,
				DocumentType:   models.DocumentTypeReceipt,
				DocumentNumber: fmt.Sprintf("B-%04d", i),
				PurchaseDate:   time.Now(),
				Items: []models.NewPurchaseItem{{
					ProductId:      product.id,
					PurchaseUnitId: cheeseKg,
					Quantity:       decimal.RequireFromString("1"),
					TotalCost:      decimal.RequireFromString("10000"),
				}},
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent CreatePurchase: %v", err)
		}
	}

	got, err := models.GetProduct(ctx, product.id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	wantStock := decimal.NewFromInt(workers * 1000)
	if !got.CurrentStock.Equal(wantStock) {
		t.Fatalf("CurrentStock = %s, want %s (no lost updates)", got.CurrentStock, wantStock)
	}
	// every inflow cost 10/g, so the blended average must be exactly 10
	if !got.AverageCost.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("AverageCost = %s, want 10", got.AverageCost)
	}
}

func TestOrderPaidDeductsAndClampsStock(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)
	product, cheeseKg := seedCheese(t, ctx)

	_, err := models.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:     product.supplierId,
		DocumentType:   models.DocumentTypeReceipt,
		DocumentNumber: "B-0001",
		PurchaseDate:   time.Now(),
		Items: []models.NewPurchaseItem{{
			ProductId:      product.id,
			PurchaseUnitId: cheeseKg,
			Quantity:       decimal.RequireFromString("1"),
			TotalCost:      decimal.RequireFromString("10000"),
		}},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	logger := config.GetLogger()
	order := &workflow.OrderPaidMessage{
		OrderId: 1,
		ItemsSold: []workflow.OrderLineSold{
			{ProductId: product.id, Quantity: decimal.RequireFromString("400")},
			// unknown product: the line is skipped, the order still lands
			{ProductId: 999999, Quantity: decimal.RequireFromString("1")},
		},
	}
	if err := workflow.ProcessOrderPaid(ctx, logger, order, "msg-1"); err != nil {
		t.Fatalf("ProcessOrderPaid: %v", err)
	}

	got, err := models.GetProduct(ctx, product.id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !got.CurrentStock.Equal(decimal.RequireFromString("600")) {
		t.Fatalf("CurrentStock = %s, want 600", got.CurrentStock)
	}
	// deductions never move the average
	if !got.AverageCost.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("AverageCost = %s, want 10", got.AverageCost)
	}

	// Over-deduction clamps at zero instead of going negative.
	over := &workflow.OrderPaidMessage{
		OrderId: 2,
		ItemsSold: []workflow.OrderLineSold{
			{ProductId: product.id, Quantity: decimal.RequireFromString("5000")},
		},
	}
	if err := workflow.ProcessOrderPaid(ctx, logger, over, "msg-2"); err != nil {
		t.Fatalf("ProcessOrderPaid (over): %v", err)
	}
	got, err = models.GetProduct(ctx, product.id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !got.CurrentStock.IsZero() {
		t.Fatalf("CurrentStock = %s, want 0 after clamp", got.CurrentStock)
	}
}

func TestOrderPaidReplayWithDedupAppliesOnce(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)
	t.Setenv("ORDER_DEDUP", "true")
	product, cheeseKg := seedCheese(t, ctx)

	_, err := models.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:     product.supplierId,
		DocumentType:   models.DocumentTypeReceipt,
		DocumentNumber: "B-0001",
		PurchaseDate:   time.Now(),
		Items: []models.NewPurchaseItem{{
			ProductId:      product.id,
			PurchaseUnitId: cheeseKg,
			Quantity:       decimal.RequireFromString("1"),
			TotalCost:      decimal.RequireFromString("10000"),
		}},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	logger := config.GetLogger()
	order := &workflow.OrderPaidMessage{
		OrderId: 1,
		ItemsSold: []workflow.OrderLineSold{
			{ProductId: product.id, Quantity: decimal.RequireFromString("100")},
		},
	}
	for i := 0; i < 3; i++ {
		if err := workflow.ProcessOrderPaid(ctx, logger, order, "msg-1"); err != nil {
			t.Fatalf("ProcessOrderPaid replay %d: %v", i, err)
		}
	}

	got, err := models.GetProduct(ctx, product.id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !got.CurrentStock.Equal(decimal.RequireFromString("900")) {
		t.Fatalf("CurrentStock = %s, want 900 (single deduction)", got.CurrentStock)
	}
}

func TestPurchaseUnitFactorChangeRecostsRecipes(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)
	product, cheeseKg := seedCheese(t, ctx)

	_, err := models.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:     product.supplierId,
		DocumentType:   models.DocumentTypeReceipt,
		DocumentNumber: "B-0001",
		PurchaseDate:   time.Now(),
		Items: []models.NewPurchaseItem{{
			ProductId:      product.id,
			PurchaseUnitId: cheeseKg,
			Quantity:       decimal.RequireFromString("1"),
			TotalCost:      decimal.RequireFromString("10000"),
		}},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	portion, err := models.CreateUnitOfMeasure(ctx, &models.NewUnitOfMeasure{Name: "Portion", Abbreviation: "ptn"})
	if err != nil {
		t.Fatalf("CreateUnitOfMeasure: %v", err)
	}
	recipe, err := models.CreateRecipe(ctx, &models.NewRecipe{
		Name:          "Fondue",
		YieldQuantity: decimal.RequireFromString("1"),
		YieldUnitId:   portion.ID,
	})
	if err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}
	// 0.1 kg of cheese at factor 1000 and average 10/g costs 1000
	_, err = models.AddRecipeIngredient(ctx, recipe.ID, &models.NewRecipeIngredient{
		ProductId:      product.id,
		PurchaseUnitId: cheeseKg,
		Quantity:       decimal.RequireFromString("0.1"),
	})
	if err != nil {
		t.Fatalf("AddRecipeIngredient: %v", err)
	}
	got, err := models.GetRecipe(ctx, recipe.ID)
	if err != nil {
		t.Fatalf("GetRecipe: %v", err)
	}
	if !got.TotalCost.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("TotalCost = %s, want 1000", got.TotalCost)
	}

	// editing the conversion factor must re-cost every recipe using the unit
	_, err = models.UpdatePurchaseUnit(ctx, cheeseKg, &models.NewPurchaseUnit{
		Name:             "Kilogram",
		BaseUnitId:       got.Ingredients[0].PurchaseUnit.BaseUnitId,
		ConversionFactor: decimal.RequireFromString("500"),
	})
	if err != nil {
		t.Fatalf("UpdatePurchaseUnit: %v", err)
	}
	got, err = models.GetRecipe(ctx, recipe.ID)
	if err != nil {
		t.Fatalf("GetRecipe: %v", err)
	}
	if !got.TotalCost.Equal(decimal.RequireFromString("500")) {
		t.Fatalf("TotalCost = %s after factor change, want 500", got.TotalCost)
	}

	// a mutation-triggered recompute announces itself even when the figures
	// did not move
	db := config.GetDB()
	var before int64
	if err := db.Model(&models.EventRecord{}).
		Where("event_type = ?", models.EventTypeRecipeUpdated).
		Count(&before).Error; err != nil {
		t.Fatalf("count recipe events: %v", err)
	}
	_, err = models.UpdateRecipe(ctx, recipe.ID, &models.NewRecipe{
		Name:          "Fondue",
		YieldQuantity: decimal.RequireFromString("1"),
		YieldUnitId:   portion.ID,
	})
	if err != nil {
		t.Fatalf("UpdateRecipe: %v", err)
	}
	var after int64
	if err := db.Model(&models.EventRecord{}).
		Where("event_type = ?", models.EventTypeRecipeUpdated).
		Count(&after).Error; err != nil {
		t.Fatalf("count recipe events: %v", err)
	}
	if after <= before {
		t.Fatalf("recipe events = %d after no-op recompute, want more than %d", after, before)
	}
}

func TestFailedOrderMarksIdempotencyFailed(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)
	t.Setenv("ORDER_DEDUP", "true")
	t.Setenv("STRICT_STOCK_DEDUCTION", "true")
	product, cheeseKg := seedCheese(t, ctx)

	_, err := models.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:     product.supplierId,
		DocumentType:   models.DocumentTypeReceipt,
		DocumentNumber: "B-0001",
		PurchaseDate:   time.Now(),
		Items: []models.NewPurchaseItem{{
			ProductId:      product.id,
			PurchaseUnitId: cheeseKg,
			Quantity:       decimal.RequireFromString("1"),
			TotalCost:      decimal.RequireFromString("10000"),
		}},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	logger := config.GetLogger()
	order := &workflow.OrderPaidMessage{
		OrderId: 7,
		ItemsSold: []workflow.OrderLineSold{
			{ProductId: product.id, Quantity: decimal.RequireFromString("5000")},
		},
	}
	err = workflow.ProcessOrderPaid(ctx, logger, order, "msg-1")
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("ProcessOrderPaid error = %v, want insufficient stock", err)
	}

	// the failure must survive on the ledger row even though the deduction
	// transaction rolled back
	db := config.GetDB()
	var key models.IdempotencyKey
	err = db.Where("handler_name = ? AND message_id = ?", "order-paid-stock-deduction", "7").
		First(&key).Error
	if err != nil {
		t.Fatalf("fetch idempotency key: %v", err)
	}
	if key.Status != models.IdempotencyStatusFailed {
		t.Fatalf("ledger status = %s, want %s", key.Status, models.IdempotencyStatusFailed)
	}
	if key.LastError == "" {
		t.Fatal("ledger should record the failure reason")
	}
}

type seededProduct struct {
	id         int
	supplierId int
}

func seedCheese(t *testing.T, ctx context.Context) (seededProduct, int) {
	t.Helper()

	gram, err := models.CreateUnitOfMeasure(ctx, &models.NewUnitOfMeasure{Name: "Gram", Abbreviation: "g"})
	if err != nil {
		t.Fatalf("CreateUnitOfMeasure: %v", err)
	}
	kg, err := models.CreatePurchaseUnit(ctx, &models.NewPurchaseUnit{
		Name:             "Kilogram",
		BaseUnitId:       gram.ID,
		ConversionFactor: decimal.RequireFromString("1000"),
	})
	if err != nil {
		t.Fatalf("CreatePurchaseUnit: %v", err)
	}
	category, err := models.CreateCategory(ctx, &models.NewCategory{Name: "Dairy"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{Name: "Lacteos del Sur"})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:            "Cheese",
		CategoryId:      category.ID,
		InventoryUnitId: gram.ID,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	return seededProduct{id: product.ID, supplierId: supplier.ID}, kg.ID
}

func setupIntegrationEnv(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "operations_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	ctx = utils.SetCorrelationIdInContext(ctx, "integration-test")
	ctx = utils.SetActorInContext(ctx, "test")
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("operations-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("operations-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=operations_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
