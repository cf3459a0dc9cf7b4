package univ3

// Minimal ABI fragments; only the entry points this strategy touches.

const factoryABI = `[
  {"inputs":[
     {"internalType":"address","name":"tokenA","type":"address"},
     {"internalType":"address","name":"tokenB","type":"address"},
     {"internalType":"uint24","name":"fee","type":"uint24"}],
   "name":"getPool","outputs":[{"internalType":"address","name":"pool","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

const poolABI = `[
  {"inputs":[],"name":"slot0","outputs":[
     {"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
     {"internalType":"int24","name":"tick","type":"int24"},
     {"internalType":"uint16","name":"observationIndex","type":"uint16"},
     {"internalType":"uint16","name":"observationCardinality","type":"uint16"},
     {"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},
     {"internalType":"uint8","name":"feeProtocol","type":"uint8"},
     {"internalType":"bool","name":"unlocked","type":"bool"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"liquidity","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

const quoterV2ABI = `[
  {"inputs":[{"components":[
     {"internalType":"address","name":"tokenIn","type":"address"},
     {"internalType":"address","name":"tokenOut","type":"address"},
     {"internalType":"uint24","name":"fee","type":"uint24"},
     {"internalType":"uint256","name":"amountIn","type":"uint256"},
     {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
   "internalType":"struct IQuoterV2.QuoteExactInputSingleParams","name":"params","type":"tuple"}],
   "name":"quoteExactInputSingle","outputs":[
     {"internalType":"uint256","name":"amountOut","type":"uint256"},
     {"internalType":"uint160","name":"sqrtPriceX96After","type":"uint160"},
     {"internalType":"uint32","name":"initializedTicksCrossed","type":"uint32"},
     {"internalType":"uint256","name":"gasEstimate","type":"uint256"}],
   "stateMutability":"nonpayable","type":"function"},
  {"inputs":[
     {"internalType":"bytes","name":"path","type":"bytes"},
     {"internalType":"uint256","name":"amountIn","type":"uint256"}],
   "name":"quoteExactInput","outputs":[
     {"internalType":"uint256","name":"amountOut","type":"uint256"}],
   "stateMutability":"nonpayable","type":"function"}
]`

const routerABI = `[
  {"inputs":[{"components":[
     {"internalType":"address","name":"tokenIn","type":"address"},
     {"internalType":"address","name":"tokenOut","type":"address"},
     {"internalType":"uint24","name":"fee","type":"uint24"},
     {"internalType":"address","name":"recipient","type":"address"},
     {"internalType":"uint256","name":"deadline","type":"uint256"},
     {"internalType":"uint256","name":"amountIn","type":"uint256"},
     {"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},
     {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
   "internalType":"struct ISwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],
   "name":"exactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],
   "stateMutability":"payable","type":"function"}
]`

const erc20ABI = `[
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`
