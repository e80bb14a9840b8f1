package store

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// filterExpr is an expression together with its attribute names and values.
type filterExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// indexedFilterExpr returns the filter expression of an indexed query.
// Documents missing the property are excluded.
func indexedFilterExpr() string {
	return "#props.#ip >= :start"
}

// indexedFilterNames returns expression attribute names for indexedFilterExpr.
func indexedFilterNames(property string) map[string]string {
	return map[string]string{"#props": "props", "#ip": property}
}

// indexedFilterValues returns expression attribute values for indexedFilterExpr.
func indexedFilterValues(start int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":start": &types.AttributeValueMemberN{Value: strconv.FormatInt(start, 10)},
	}
}

// conditionExpr translates document conditions into a condition expression.
// The document itself must exist for the expression to hold.
func conditionExpr(conds Conditions) (filterExpr, error) {
	expr := filterExpr{
		Names:  map[string]string{"#sk": "sk"},
		Values: map[string]types.AttributeValue{},
	}
	clauses := []string{"attribute_exists(#sk)"}

	names := make([]string, 0, len(conds))
	for name := range conds {
		names = append(names, name)
	}
	slices.Sort(names)

	if len(names) > 0 {
		expr.Names["#props"] = "props"
	}
	for i, name := range names {
		cond := conds[name]
		attr := fmt.Sprintf("#c%d", i)
		placeholder := fmt.Sprintf(":c%d", i)
		path := "#props." + attr
		expr.Names[attr] = name

		switch cond.Type {
		case Exists:
			clauses = append(clauses, fmt.Sprintf("attribute_exists(%s)", path))
			continue
		case NotExists:
			clauses = append(clauses, fmt.Sprintf("attribute_not_exists(%s)", path))
			continue
		}

		value, err := attributevalue.Marshal(cond.Value)
		if err != nil {
			return filterExpr{}, fmt.Errorf("condition on %s: %w", name, err)
		}
		expr.Values[placeholder] = value

		switch cond.Type {
		case Equals:
			clauses = append(clauses, fmt.Sprintf("%s = %s", path, placeholder))
		case NotEquals:
			clauses = append(clauses, fmt.Sprintf("(attribute_not_exists(%s) OR %s <> %s)", path, path, placeholder))
		default:
			return filterExpr{}, fmt.Errorf("condition on %s: unknown type %d", name, cond.Type)
		}
	}

	expr.Expr = strings.Join(clauses, " AND ")
	return expr, nil
}

// nilIfEmpty returns nil for an empty value map; DynamoDB rejects empty
// ExpressionAttributeValues.
func nilIfEmpty(values map[string]types.AttributeValue) map[string]types.AttributeValue {
	if len(values) == 0 {
		return nil
	}
	return values
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
