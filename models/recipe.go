package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var moduleRecipe = "recipe"

// Recipe cost figures are derived: TotalCost and CostPerUnit are rewritten by
// RecalculateRecipeCost from the current ingredient list and product averages.
type Recipe struct {
	ID            int                `gorm:"primary_key" json:"id"`
	Name          string             `gorm:"size:200;not null;uniqueIndex" json:"name"`
	Description   string             `gorm:"type:text" json:"description"`
	YieldQuantity decimal.Decimal    `gorm:"type:decimal(20,4);not null;default:1" json:"yield_quantity"`
	YieldUnitId   int                `gorm:"not null" json:"yield_unit_id"`
	YieldUnit     *UnitOfMeasure     `gorm:"foreignKey:YieldUnitId" json:"yield_unit,omitempty"`
	TotalCost     decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	CostPerUnit   decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"cost_per_unit"`
	IsActive      *bool              `gorm:"not null;default:true" json:"is_active"`
	Ingredients   []RecipeIngredient `gorm:"foreignKey:RecipeId" json:"ingredients,omitempty"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecipeIngredient costs quantity * conversion factor of its purchase unit
// * the product's current average cost. A product appears at most once per
// recipe.
type RecipeIngredient struct {
	ID             int             `gorm:"primary_key" json:"id"`
	RecipeId       int             `gorm:"not null;uniqueIndex:idx_recipe_product,priority:1" json:"recipe_id"`
	ProductId      int             `gorm:"not null;uniqueIndex:idx_recipe_product,priority:2" json:"product_id"`
	Product        *Product        `gorm:"foreignKey:ProductId" json:"product,omitempty"`
	PurchaseUnitId int             `gorm:"not null" json:"purchase_unit_id"`
	PurchaseUnit   *PurchaseUnit   `gorm:"foreignKey:PurchaseUnitId" json:"purchase_unit,omitempty"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	CalculatedCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"calculated_cost"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRecipe struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Description   string          `json:"description"`
	YieldQuantity decimal.Decimal `json:"yield_quantity" validate:"required"`
	YieldUnitId   int             `json:"yield_unit_id" validate:"required,gt=0"`
}

func (input *NewRecipe) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.YieldQuantity.IsPositive() {
		return errors.New("yield quantity must be positive")
	}
	if err := utils.ValidateUnique[Recipe](ctx, "name", input.Name, id); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[UnitOfMeasure](ctx, input.YieldUnitId); err != nil {
		return errors.New("yield unit not found")
	}
	return nil
}

func CreateRecipe(ctx context.Context, input *NewRecipe) (*Recipe, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	recipe := Recipe{
		Name:          input.Name,
		Description:   input.Description,
		YieldQuantity: input.YieldQuantity,
		YieldUnitId:   input.YieldUnitId,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&recipe).Error
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

func UpdateRecipe(ctx context.Context, id int, input *NewRecipe) (*Recipe, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	recipe, err := utils.FetchModel[Recipe](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(recipe).Updates(map[string]interface{}{
			"Name":          input.Name,
			"Description":   input.Description,
			"YieldQuantity": input.YieldQuantity,
			"YieldUnitId":   input.YieldUnitId,
		}).Error
		if err != nil {
			return err
		}
		// yield change moves the per-unit cost
		return RecalculateRecipeCost(tx, ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[Recipe](ctx, id)
}

func DeleteRecipe(ctx context.Context, id int) (*Recipe, error) {

	recipe, err := utils.FetchModel[Recipe](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("recipe_id = ?", id).Delete(&RecipeIngredient{}).Error
		if err != nil {
			return err
		}
		return tx.Delete(recipe).Error
	})
	if err != nil {
		return nil, err
	}
	return recipe, nil
}

func GetRecipe(ctx context.Context, id int) (*Recipe, error) {
	return utils.FetchModel[Recipe](ctx, id,
		"YieldUnit", "Ingredients", "Ingredients.Product", "Ingredients.PurchaseUnit")
}

func GetRecipes(ctx context.Context) ([]*Recipe, error) {

	db := config.GetDB()
	var results []*Recipe
	err := db.WithContext(ctx).Preload("YieldUnit").Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

type NewRecipeIngredient struct {
	ProductId      int             `json:"product_id" validate:"required,gt=0"`
	PurchaseUnitId int             `json:"purchase_unit_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity" validate:"required"`
}

func (input *NewRecipeIngredient) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Quantity.IsPositive() {
		return errors.New("ingredient quantity must be positive")
	}
	if err := utils.ValidateResourceId[Product](ctx, input.ProductId); err != nil {
		return errors.New("product not found")
	}
	if err := utils.ValidateResourceId[PurchaseUnit](ctx, input.PurchaseUnitId); err != nil {
		return errors.New("purchase unit not found")
	}
	return nil
}

// AddRecipeIngredient inserts the line and recomputes the recipe cost in the
// same transaction.
func AddRecipeIngredient(ctx context.Context, recipeId int, input *NewRecipeIngredient) (*RecipeIngredient, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Recipe](ctx, recipeId); err != nil {
		return nil, errors.New("recipe not found")
	}

	ingredient := RecipeIngredient{
		RecipeId:       recipeId,
		ProductId:      input.ProductId,
		PurchaseUnitId: input.PurchaseUnitId,
		Quantity:       input.Quantity,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ingredient).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return errors.New("product already in recipe")
			}
			return err
		}
		return RecalculateRecipeCost(tx, ctx, recipeId)
	})
	if err != nil {
		return nil, err
	}
	return &ingredient, nil
}

func UpdateRecipeIngredient(ctx context.Context, id int, input *NewRecipeIngredient) (*RecipeIngredient, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	ingredient, err := utils.FetchModel[RecipeIngredient](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(ingredient).Updates(map[string]interface{}{
			"ProductId":      input.ProductId,
			"PurchaseUnitId": input.PurchaseUnitId,
			"Quantity":       input.Quantity,
		}).Error
		if err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return errors.New("product already in recipe")
			}
			return err
		}
		return RecalculateRecipeCost(tx, ctx, ingredient.RecipeId)
	})
	if err != nil {
		return nil, err
	}
	return ingredient, nil
}

func DeleteRecipeIngredient(ctx context.Context, id int) (*RecipeIngredient, error) {

	ingredient, err := utils.FetchModel[RecipeIngredient](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(ingredient).Error; err != nil {
			return err
		}
		return RecalculateRecipeCost(tx, ctx, ingredient.RecipeId)
	})
	if err != nil {
		return nil, err
	}
	return ingredient, nil
}

// ComputeRecipeCost folds the ingredient lines into the recipe's total and
// per-unit cost, writing each line's CalculatedCost along the way. Each line
// contributes quantity * purchase-unit factor * product average cost.
// Ingredients must arrive with Product and PurchaseUnit loaded.
func ComputeRecipeCost(ingredients []RecipeIngredient, yieldQuantity decimal.Decimal) (totalCost, costPerUnit decimal.Decimal, err error) {
	if !yieldQuantity.IsPositive() {
		return decimal.Zero, decimal.Zero,
			fmt.Errorf("non-positive yield quantity %s", yieldQuantity)
	}
	totalCost = decimal.Zero
	for i := range ingredients {
		if ingredients[i].Product == nil || ingredients[i].PurchaseUnit == nil {
			return decimal.Zero, decimal.Zero,
				fmt.Errorf("ingredient %d has dangling references", ingredients[i].ID)
		}
		lineCost := ingredients[i].Quantity.
			Mul(ingredients[i].PurchaseUnit.ConversionFactor).
			Mul(ingredients[i].Product.AverageCost)
		ingredients[i].CalculatedCost = lineCost
		totalCost = totalCost.Add(lineCost)
	}
	return totalCost, totalCost.Div(yieldQuantity), nil
}

// RecalculateRecipeCost re-reads every ingredient and rebuilds the recipe's
// cost figures from scratch. Each line contributes
// quantity * purchase-unit factor * product average cost; no incremental
// shortcut is taken, so stale deltas cannot accumulate. Enqueues a
// recipe.updated record after every recompute; the scheduled sweep uses the
// suppressing variant instead so an hourly pass over unchanged recipes does
// not flood the bus.
func RecalculateRecipeCost(tx *gorm.DB, ctx context.Context, recipeId int) error {
	return recalculateRecipeCost(tx, ctx, recipeId, false)
}

func recalculateRecipeCost(tx *gorm.DB, ctx context.Context, recipeId int, onlyEmitOnChange bool) error {

	var recipe Recipe
	err := tx.First(&recipe, recipeId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	var ingredients []RecipeIngredient
	err = tx.Preload("Product").Preload("PurchaseUnit").
		Where("recipe_id = ?", recipeId).Find(&ingredients).Error
	if err != nil {
		return err
	}

	totalCost, costPerUnit, err := ComputeRecipeCost(ingredients, recipe.YieldQuantity)
	if err != nil {
		return fmt.Errorf("recipe %d: %w", recipeId, err)
	}

	for i := range ingredients {
		err = tx.Model(&RecipeIngredient{}).Where("id = ?", ingredients[i].ID).
			Update("CalculatedCost", ingredients[i].CalculatedCost).Error
		if err != nil {
			return err
		}
	}

	unchanged := recipe.TotalCost.Equal(totalCost) && recipe.CostPerUnit.Equal(costPerUnit)

	recipe.TotalCost = totalCost
	recipe.CostPerUnit = costPerUnit
	err = tx.Model(&Recipe{}).Where("id = ?", recipeId).
		Updates(map[string]interface{}{
			"TotalCost":   totalCost,
			"CostPerUnit": costPerUnit,
		}).Error
	if err != nil {
		return err
	}

	if onlyEmitOnChange && unchanged {
		return nil
	}
	return EnqueueRecipeUpdated(tx, ctx, &recipe)
}

// RecalculateRecipesContainingProduct refreshes every recipe that uses the
// product, after its average cost moved. Each recipe gets its own transaction
// so one bad recipe does not hold back the rest.
func RecalculateRecipesContainingProduct(ctx context.Context, productId int) error {
	logger := config.GetLogger()
	db := config.GetDB()

	var recipeIds []int
	err := db.WithContext(ctx).Model(&RecipeIngredient{}).
		Distinct("recipe_id").
		Where("product_id = ?", productId).
		Pluck("recipe_id", &recipeIds).Error
	if err != nil {
		return err
	}

	for _, recipeId := range recipeIds {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return RecalculateRecipeCost(tx, ctx, recipeId)
		})
		if err != nil {
			config.LogError(logger, moduleRecipe, "RecalculateRecipesContainingProduct",
				"recipe recompute failed", logrus.Fields{
					"recipeId":  recipeId,
					"productId": productId,
				}, err)
		}
	}
	return nil
}

// RecalculateRecipesUsingPurchaseUnit refreshes every recipe with an
// ingredient measured in the unit, after its conversion factor changed.
// Each recipe gets its own transaction so one bad recipe does not hold back
// the rest.
func RecalculateRecipesUsingPurchaseUnit(ctx context.Context, purchaseUnitId int) error {
	logger := config.GetLogger()
	db := config.GetDB()

	var recipeIds []int
	err := db.WithContext(ctx).Model(&RecipeIngredient{}).
		Distinct("recipe_id").
		Where("purchase_unit_id = ?", purchaseUnitId).
		Pluck("recipe_id", &recipeIds).Error
	if err != nil {
		return err
	}

	for _, recipeId := range recipeIds {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return RecalculateRecipeCost(tx, ctx, recipeId)
		})
		if err != nil {
			config.LogError(logger, moduleRecipe, "RecalculateRecipesUsingPurchaseUnit",
				"recipe recompute failed", logrus.Fields{
					"recipeId":       recipeId,
					"purchaseUnitId": purchaseUnitId,
				}, err)
		}
	}
	return nil
}

// RecalculateAllRecipeCosts sweeps every active recipe. Emits recipe.updated
// only for recipes whose figures actually moved.
func RecalculateAllRecipeCosts(ctx context.Context) error {
	logger := config.GetLogger()
	db := config.GetDB()

	var recipeIds []int
	err := db.WithContext(ctx).Model(&Recipe{}).
		Where("is_active = ?", true).Pluck("id", &recipeIds).Error
	if err != nil {
		return err
	}

	for _, recipeId := range recipeIds {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return recalculateRecipeCost(tx, ctx, recipeId, true)
		})
		if err != nil {
			config.LogError(logger, moduleRecipe, "RecalculateAllRecipeCosts",
				"recipe recompute failed", logrus.Fields{"recipeId": recipeId}, err)
		}
	}
	return nil
}
